package camtrail

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/go-logr/logr"
	"k8s.io/klog/v2"

	"github.com/camtrail/camtrail/pkg/geo"
	"github.com/camtrail/camtrail/pkg/geotag"
	"github.com/camtrail/camtrail/pkg/gpx"
	"github.com/camtrail/camtrail/pkg/scan"
	"github.com/camtrail/camtrail/pkg/sequence"
)

// Pipeline is one configured batch processor. It is safe to reuse across
// runs.
type Pipeline struct {
	Config *Config
	Log    logr.Logger
}

// New returns a Pipeline logging through klog.
func New(cfg *Config) *Pipeline {
	return &Pipeline{Config: cfg, Log: klog.Background()}
}

// VideoResult is the outcome of one video extraction. Exactly one of Track
// and Err is set.
type VideoResult struct {
	Path  string
	Track *VideoTrack
	Err   error
}

// ExtractVideos decodes a batch of videos on a bounded worker pool.
// Results come back in input order. Panics in a worker are recovered and
// recorded as that file's error.
func (p *Pipeline) ExtractVideos(ctx context.Context, paths []string) []VideoResult {
	results := make([]VideoResult, len(paths))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < p.Config.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = p.extractOne(paths[i])
			}
		}()
	}

	for i := range paths {
		select {
		case jobs <- i:
		case <-ctx.Done():
			for j := i; j < len(paths); j++ {
				results[j] = VideoResult{Path: paths[j], Err: ctx.Err()}
			}
			close(jobs)
			wg.Wait()
			return results
		}
	}
	close(jobs)
	wg.Wait()
	return results
}

func (p *Pipeline) extractOne(path string) (res VideoResult) {
	res.Path = path
	defer func() {
		if r := recover(); r != nil {
			res.Track = nil
			res.Err = &InternalError{Value: r}
		}
	}()

	log := p.Log.WithValues("video", path)
	track, err := p.ExtractVideoTrack(path)
	if err != nil {
		log.V(1).Info("video extraction failed", "err", err)
		res.Err = err
		return res
	}
	log.V(1).Info("extracted track", "points", len(track.Points), "make", track.Make, "model", track.Model)
	res.Track = track
	return res
}

// RunOptions select the inputs of one batch run.
type RunOptions struct {
	// GPXPath optionally geotags images that are not video sample frames
	// against an external GPX track.
	GPXPath string
}

// Batch is the outcome of one pipeline run: sequenced images plus every
// per-file error record accumulated along the way.
type Batch struct {
	Images []geotag.ImageMetadata
	Errors []geotag.ImageError
}

// Run processes one directory tree end to end: discover files, extract and
// sanitize video telemetry, geotag sample frames (and, with a GPX track,
// standalone images), then segment everything into sequences.
func (p *Pipeline) Run(ctx context.Context, root string, opts RunOptions) (*Batch, error) {
	images, videos, err := scan.Find(root)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", root, err)
	}
	p.Log.Info("scanned input", "root", root, "images", len(images), "videos", len(videos))

	groups := scan.GroupVideoSamples(images, videos)
	claimed := map[string]bool{}
	for _, frames := range groups {
		for _, f := range frames {
			claimed[f] = true
		}
	}

	var tagged []geotag.ImageMetadata
	var errs []geotag.ImageError

	for _, res := range p.ExtractVideos(ctx, videos) {
		if res.Err != nil {
			errs = append(errs, geotag.ImageError{Filename: res.Path, Err: res.Err})
			continue
		}
		frames := groups[res.Path]
		if len(frames) == 0 {
			p.Log.V(1).Info("video has no sample frames", "video", res.Path)
			continue
		}
		ok, bad, err := p.geotagFrames(frames, res.Track)
		if err != nil {
			return nil, err
		}
		tagged = append(tagged, ok...)
		errs = append(errs, bad...)
	}

	var standalone []string
	for _, img := range images {
		if !claimed[img] {
			standalone = append(standalone, img)
		}
	}
	if opts.GPXPath != "" && len(standalone) > 0 {
		ok, bad, err := p.geotagAgainstGPX(standalone, opts.GPXPath)
		if err != nil {
			return nil, err
		}
		tagged = append(tagged, ok...)
		errs = append(errs, bad...)
	} else if len(standalone) > 0 {
		p.Log.V(1).Info("skipping images without a telemetry source", "count", len(standalone))
	}

	final, seqErrs := sequence.Process(tagged, sequence.Options{
		CutoffDistance:        p.Config.CutoffDistance,
		CutoffTime:            p.Config.CutoffTime,
		DuplicateDistance:     p.Config.DuplicateDistance,
		DuplicateAngle:        p.Config.DuplicateAngle,
		MaxSequenceLength:     p.Config.MaxSequenceLength,
		MaxCaptureSpeedKMH:    p.Config.MaxCaptureSpeedKMH,
		InterpolateDirections: p.Config.InterpolateDirections,
	})
	errs = append(errs, seqErrs...)

	p.Log.Info("batch complete", "images", len(final), "errors", len(errs))
	return &Batch{Images: final, Errors: errs}, nil
}

// geotagFrames interpolates a video's sample frames along its track. The
// track clock is relative to the start of the recording, so it is rebased
// onto the first frame's capture time.
func (p *Pipeline) geotagFrames(frames []string, track *VideoTrack) ([]geotag.ImageMetadata, []geotag.ImageError, error) {
	metas, err := p.readImages(frames)
	if err != nil {
		return nil, nil, err
	}
	for i := range metas {
		if track.Make != "" {
			metas[i].Make = track.Make
		}
		if track.Model != "" {
			metas[i].Model = track.Model
		}
	}
	geotag.SpreadSubSeconds(metas)
	ok, bad := geotag.ApplyTrack(metas, track.Points, geotag.Options{
		Offset:    p.Config.Offset,
		Alignment: geotag.AlignTrackToFirstImage,
	})
	return ok, bad, nil
}

// geotagAgainstGPX interpolates standalone images along an external track.
// Images and track share the wall clock, adjusted only by the configured
// offset.
func (p *Pipeline) geotagAgainstGPX(paths []string, gpxPath string) ([]geotag.ImageMetadata, []geotag.ImageError, error) {
	segments, err := gpx.Parse(gpxPath)
	if err != nil {
		return nil, nil, fmt.Errorf("parse gpx %s: %w", gpxPath, err)
	}
	var trackPoints []geo.Point
	for _, seg := range segments {
		trackPoints = append(trackPoints, seg...)
	}
	sort.SliceStable(trackPoints, func(i, j int) bool {
		return trackPoints[i].Time < trackPoints[j].Time
	})

	metas, err := p.readImages(paths)
	if err != nil {
		return nil, nil, err
	}
	if len(trackPoints) == 0 {
		var bad []geotag.ImageError
		for _, m := range metas {
			bad = append(bad, geotag.ImageError{Filename: m.Filename, Err: &EmptyTrackError{Source: gpxPath}})
		}
		return nil, bad, nil
	}

	geotag.SpreadSubSeconds(metas)
	ok, bad := geotag.ApplyTrack(metas, trackPoints, geotag.Options{
		Offset:    p.Config.Offset,
		Alignment: geotag.AlignCaptureTimes,
	})
	return ok, bad, nil
}

func (p *Pipeline) readImages(paths []string) ([]geotag.ImageMetadata, error) {
	infos, err := scan.ReadImages(paths)
	if err != nil {
		return nil, err
	}
	metas := make([]geotag.ImageMetadata, 0, len(infos))
	for _, info := range infos {
		metas = append(metas, geotag.ImageMetadata{
			Filename: info.Path,
			Time:     float64(info.Taken.UnixNano()) / 1e9,
			Make:     info.Make,
			Model:    info.Model,
			Width:    info.Width,
			Height:   info.Height,
			Filesize: info.Filesize,
		})
	}
	return metas, nil
}
