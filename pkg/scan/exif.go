package scan

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/barasher/go-exiftool"
	"k8s.io/klog/v2"
)

var exifDate = "2006:01:02 15:04:05"

// ImageInfo is the EXIF subset needed to geotag and sequence one image.
type ImageInfo struct {
	Path     string
	Taken    time.Time
	Make     string
	Model    string
	Width    int64
	Height   int64
	Filesize int64
}

// ReadImage extracts the metadata of one image through a running exiftool.
// A missing capture time leaves Taken zero; callers decide whether that is
// fatal.
func ReadImage(path string, et *exiftool.Exiftool) (ImageInfo, error) {
	fis := et.ExtractMetadata(path)
	fi := fis[0]
	i := ImageInfo{Path: path}
	var err error

	if fi.Err != nil {
		return i, fmt.Errorf("extract fail for %q: %w", path, fi.Err)
	}

	i.Make, err = fi.GetString("Make")
	if err != nil {
		klog.V(1).Infof("unable to get make for %s: %v", path, err)
	}

	i.Model, err = fi.GetString("Model")
	if err != nil {
		klog.V(1).Infof("unable to get model for %s: %v", path, err)
	}

	i.Width, err = fi.GetInt("ImageWidth")
	if err != nil {
		return i, fmt.Errorf("get ImageWidth: %w", err)
	}

	i.Height, err = fi.GetInt("ImageHeight")
	if err != nil {
		return i, fmt.Errorf("get ImageHeight: %w", err)
	}

	fs, err := os.Stat(path)
	if err != nil {
		return i, fmt.Errorf("stat: %w", err)
	}
	i.Filesize = fs.Size()

	ds, err := fi.GetString("DateTimeOriginal")
	if err != nil {
		klog.V(1).Infof("unable to get date time for %s: %v", path, err)
		return i, nil
	}

	i.Taken, err = time.Parse(exifDate, ds)
	if err != nil {
		return i, fmt.Errorf("parse time %q: %w", ds, err)
	}

	if sub, err := fi.GetString("SubSecTimeOriginal"); err == nil {
		i.Taken = addSubSec(i.Taken, sub)
	}

	return i, nil
}

// addSubSec folds an EXIF SubSecTimeOriginal field, which holds fractional
// second digits, into the capture time.
func addSubSec(t time.Time, sub string) time.Time {
	sub = strings.TrimSpace(sub)
	if sub == "" {
		return t
	}
	frac, err := strconv.ParseFloat("0."+sub, 64)
	if err != nil {
		return t
	}
	return t.Add(time.Duration(frac * float64(time.Second)))
}

// ReadImages reads every image through one exiftool process. Images that
// fail to read are skipped with a warning; the error return is for failing
// to start exiftool itself.
func ReadImages(paths []string) ([]ImageInfo, error) {
	et, err := exiftool.NewExiftool()
	if err != nil {
		return nil, fmt.Errorf("exiftool: %w", err)
	}
	defer et.Close()

	infos := make([]ImageInfo, 0, len(paths))
	for _, path := range paths {
		info, err := ReadImage(path, et)
		if err != nil {
			klog.Warningf("read %s: %v", path, err)
			continue
		}
		infos = append(infos, info)
	}
	return infos, nil
}
