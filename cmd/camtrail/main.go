// camtrail extracts GPS telemetry from dashcam and action-camera videos,
// geotags the matching images, and writes a description file of upload
// sequences.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"k8s.io/klog/v2"

	"github.com/fsnotify/fsnotify"
	"github.com/camtrail/camtrail/pkg/camtrail"
	"github.com/camtrail/camtrail/pkg/export"
)

var (
	inDir     = flag.String("in", "", "Location of input directory")
	descPath  = flag.String("desc", "", "Path to write the description JSON to (default: <in>/camtrail_descriptions.json)")
	gpxPath   = flag.String("gpx", "", "GPX track to geotag standalone images against")
	offset    = flag.Float64("offset", 0, "camera-to-GPS clock offset in seconds")
	sortDir   = flag.String("sort-into", "", "sort processed images into sequence folders under this directory")
	copyFlag  = flag.Bool("copy", false, "copy instead of move when sorting")
	watchFlag = flag.Bool("watch", false, "watch for changes to inDir and reprocess")
)

func main() {
	klog.InitFlags(nil)
	flag.Parse()

	if *inDir == "" {
		klog.Exitf("--in is a required flag")
	}

	cfg, err := camtrail.LoadConfig()
	if err != nil {
		klog.Exitf("config failed: %v", err)
	}
	cfg.Offset = *offset

	p := camtrail.New(cfg)
	if err := run(p); err != nil {
		klog.Exitf("process failed: %v", err)
	}

	var wg sync.WaitGroup
	if *watchFlag {
		wg.Add(1)
		go func() {
			defer wg.Done()
			watch(p)
		}()
	}
	wg.Wait()
}

// run executes one full pass over the input directory.
func run(p *camtrail.Pipeline) error {
	batch, err := p.Run(context.Background(), *inDir, camtrail.RunOptions{GPXPath: *gpxPath})
	if err != nil {
		return err
	}

	out := *descPath
	if out == "" {
		out = filepath.Join(*inDir, "camtrail_descriptions.json")
	}
	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("create %s: %w", out, err)
	}
	defer f.Close()
	if err := camtrail.WriteDescriptions(f, batch); err != nil {
		return fmt.Errorf("write descriptions: %w", err)
	}
	klog.Infof("wrote %d images and %d error records to %s", len(batch.Images), len(batch.Errors), out)

	if *sortDir != "" {
		mode := export.ModeMove
		if *copyFlag {
			mode = export.ModeCopy
		}
		if err := export.Sort(batch.Images, batch.Errors, *sortDir, mode); err != nil {
			return fmt.Errorf("sort into %s: %w", *sortDir, err)
		}
	}
	return nil
}

// watch reprocesses the input directory whenever its contents change.
func watch(p *camtrail.Pipeline) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("new watcher: %w", err)
	}
	defer w.Close()

	go func() {
		for {
			select {
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				log.Println("event:", event)
				if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
					if err := run(p); err != nil {
						klog.Exitf("process failed: %v", err)
					}
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				log.Println("error:", err)
			}
		}
	}()

	dirs := []string{*inDir}
	err = filepath.WalkDir(*inDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			dirs = append(dirs, path)
		}
		return nil
	})
	if err != nil {
		return err
	}

	slices.Sort(dirs)
	dirs = slices.Compact(dirs)

	klog.Infof("watching %d dirs ...", len(dirs))
	for _, d := range dirs {
		if err := w.Add(d); err != nil {
			log.Fatal(err)
		}
	}

	<-make(chan struct{})
	return nil
}
