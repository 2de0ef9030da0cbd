// Package scan discovers camera files on disk and reads the EXIF fields the
// geotagging pipeline needs.
package scan

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/karrick/godirwalk"
	"k8s.io/klog/v2"
)

var imageExts = map[string]bool{
	".jpg": true, ".jpeg": true,
	".tif": true, ".tiff": true,
	".pgm": true, ".pnm": true,
}

var videoExts = map[string]bool{
	".mp4": true, ".avi": true, ".tavi": true,
	".mov": true, ".mkv": true,
}

// IsImage reports whether a path has a supported image extension.
func IsImage(path string) bool {
	return imageExts[strings.ToLower(filepath.Ext(path))]
}

// IsVideo reports whether a path has a supported video extension.
func IsVideo(path string) bool {
	return videoExts[strings.ToLower(filepath.Ext(path))]
}

// Find walks root and returns image and video paths in lexical order,
// skipping dot-directories.
func Find(root string) (images, videos []string, err error) {
	err = godirwalk.Walk(root, &godirwalk.Options{
		Callback: func(path string, de *godirwalk.Dirent) error {
			if filepath.Base(path)[0] == '.' && path != root {
				if de.IsDir() {
					return godirwalk.SkipThis
				}
				return nil
			}
			if de.IsDir() {
				return nil
			}
			switch {
			case IsImage(path):
				klog.V(1).Infof("found image %s", path)
				images = append(images, path)
			case IsVideo(path):
				klog.V(1).Infof("found video %s", path)
				videos = append(videos, path)
			}
			return nil
		},
	})
	sort.Strings(images)
	sort.Strings(videos)
	return images, videos, err
}

// VideoStem returns the video filename without its extension.
func VideoStem(videoPath string) string {
	base := filepath.Base(videoPath)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// IsVideoSample reports whether an image is a sample frame extracted from
// the video: it sits in a directory named exactly after the video file and
// its name starts with the video stem followed by an underscore.
func IsVideoSample(imagePath, videoPath string) bool {
	if filepath.Base(filepath.Dir(imagePath)) != filepath.Base(videoPath) {
		return false
	}
	return strings.HasPrefix(filepath.Base(imagePath), VideoStem(videoPath)+"_")
}

// FilterVideoSamples returns the images that are sample frames of the
// video, preserving input order.
func FilterVideoSamples(imagePaths []string, videoPath string) []string {
	var out []string
	for _, p := range imagePaths {
		if IsVideoSample(p, videoPath) {
			out = append(out, p)
		}
	}
	return out
}

// GroupVideoSamples maps each video to its sample frames. Images claimed by
// one video are not offered to later ones; videos without samples are
// omitted.
func GroupVideoSamples(imagePaths, videoPaths []string) map[string][]string {
	grouped := make(map[string][]string)
	claimed := make(map[string]bool, len(imagePaths))
	for _, video := range videoPaths {
		for _, image := range imagePaths {
			if claimed[image] || !IsVideoSample(image, video) {
				continue
			}
			claimed[image] = true
			grouped[video] = append(grouped[video], image)
		}
	}
	return grouped
}
