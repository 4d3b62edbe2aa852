// Package archive extracts uploaded zip files and discovers processable
// documents inside them.
package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dslipak/pdf"

	"docpipe/internal/domain/docModel"
	"docpipe/pkg/logger_i"
)

var logger = logger_i.NewLogger("Archive")

var supportedExtensions = map[string]string{
	".pdf":  "application/pdf",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
}

// MIMETypeFor maps a file path to its MIME type, defaulting to octet-stream
// for anything outside the supported set.
func MIMETypeFor(path string) string {
	if mime, ok := supportedExtensions[strings.ToLower(filepath.Ext(path))]; ok {
		return mime
	}
	return "application/octet-stream"
}

// ExtractZip unpacks an archive into destDir, refusing entries that escape it.
func ExtractZip(zipPath string, destDir string) error {
	reader, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer reader.Close()

	for _, entry := range reader.File {
		target := filepath.Join(destDir, entry.Name)
		if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) {
			logger.Warn("Skipping archive entry escaping destination", "entry", entry.Name)
			continue
		}
		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0750); err != nil {
				return fmt.Errorf("create dir %s: %w", entry.Name, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0750); err != nil {
			return fmt.Errorf("create dir for %s: %w", entry.Name, err)
		}
		if err := extractEntry(entry, target); err != nil {
			return err
		}
	}
	return nil
}

func extractEntry(entry *zip.File, target string) error {
	src, err := entry.Open()
	if err != nil {
		return fmt.Errorf("open archive entry %s: %w", entry.Name, err)
	}
	defer src.Close()

	dst, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0640)
	if err != nil {
		return fmt.Errorf("create %s: %w", target, err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		return fmt.Errorf("write %s: %w", target, err)
	}
	return nil
}

// DiscoverCases walks an extracted archive and returns supported document
// files grouped by case folder (the file's parent directory). macOS resource
// fork directories are ignored.
func DiscoverCases(root string) (map[string][]docModel.PageRef, error) {
	cases := make(map[string][]docModel.PageRef)

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			if info.Name() == "__MACOSX" {
				return filepath.SkipDir
			}
			return nil
		}
		ext := strings.ToLower(filepath.Ext(path))
		mime, ok := supportedExtensions[ext]
		if !ok {
			return nil
		}

		caseID := filepath.Base(filepath.Dir(path))
		if filepath.Dir(path) == filepath.Clean(root) {
			caseID = "root"
		}
		ref := docModel.PageRef{Path: path, MIMEType: mime}
		if ext == ".pdf" {
			ref.PDFPages = probePDFPages(path)
		}
		cases[caseID] = append(cases[caseID], ref)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("discover documents: %w", err)
	}

	for caseID := range cases {
		refs := cases[caseID]
		sort.Slice(refs, func(i, j int) bool { return refs[i].Path < refs[j].Path })
		cases[caseID] = refs
	}
	return cases, nil
}

// probePDFPages reads the PDF page count for logging and group metadata.
// A malformed PDF is still submitted to the model; the probe just returns 0.
func probePDFPages(path string) int {
	defer func() {
		if r := recover(); r != nil {
			logger.Warn("PDF probe panicked", "path", path, "cause", r)
		}
	}()
	reader, err := pdf.Open(path)
	if err != nil {
		logger.Warn("Could not probe PDF page count", "path", path, "error", err)
		return 0
	}
	return reader.NumPage()
}
