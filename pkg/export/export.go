// Package export sorts processed images into outcome folders: one numbered
// folder per sequence, plus a duplicates folder for the images the
// segmenter flagged.
package export

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/otiai10/copy"
	"k8s.io/klog/v2"

	"github.com/camtrail/camtrail/pkg/geotag"
	"github.com/camtrail/camtrail/pkg/sequence"
)

// Mode selects whether images are moved or copied into place.
type Mode int

const (
	ModeMove Mode = iota
	ModeCopy
)

const (
	duplicatesDir = "duplicates"
	sequencesDir  = "sequences"
)

// Sort arranges images under outDir: sequences/<n>/ for each sequence in
// order of first appearance, duplicates/ for every error record carrying a
// DuplicateError. Other error records are left where they are.
func Sort(images []geotag.ImageMetadata, errs []geotag.ImageError, outDir string, mode Mode) error {
	seqDirs := map[string]string{}
	next := 1

	for _, img := range images {
		dir, ok := seqDirs[img.SequenceUUID]
		if !ok {
			dir = filepath.Join(outDir, sequencesDir, fmt.Sprintf("%d", next))
			seqDirs[img.SequenceUUID] = dir
			next++
		}
		if err := place(img.Filename, dir, mode); err != nil {
			return err
		}
	}

	for _, rec := range errs {
		var dup *sequence.DuplicateError
		if !errors.As(rec.Err, &dup) {
			continue
		}
		if err := place(rec.Filename, filepath.Join(outDir, duplicatesDir), mode); err != nil {
			return err
		}
	}

	klog.Infof("sorted %d images into %d sequences under %s", len(images), next-1, outDir)
	return nil
}

func place(src, dir string, mode Mode) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	dst := filepath.Join(dir, filepath.Base(src))
	klog.V(1).Infof("%s -> %s", src, dst)

	if mode == ModeCopy {
		if err := copy.Copy(src, dst); err != nil {
			return fmt.Errorf("copy %s: %w", src, err)
		}
		return nil
	}
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("move %s: %w", src, err)
	}
	return nil
}
