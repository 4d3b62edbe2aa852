// Package grouping assembles flat case-folder file listings into logical
// multi-page document groups by filename pattern.
package grouping

import (
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"docpipe/internal/domain/docModel"
	"docpipe/pkg/logger_i"
)

var logger = logger_i.NewLogger("Grouper")

// Trailing page-number suffix: digits, optionally preceded by a space,
// underscore, hyphen or the literal "Page". 'Invoice 2', 'Invoice_2',
// 'InvoicePage2' and 'Invoice-2' all share base name 'Invoice'.
var pageSuffixPattern = regexp.MustCompile(`(?i)^(.*?)(?:[ _-]|Page)?(\d+)$`)

// ParseFilename splits a filename into its grouping base name and page number.
// Files with no page suffix default to page 1. An unparseable name falls back
// to the whole stem; files are never dropped.
func ParseFilename(filename string) (string, int) {
	stem := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	baseName := stem
	pageNumber := 1

	if m := pageSuffixPattern.FindStringSubmatch(stem); m != nil {
		if m[1] != "" {
			baseName = strings.Trim(m[1], " _-")
			if n, err := strconv.Atoi(m[2]); err == nil {
				pageNumber = n
			}
		}
	}
	if baseName == "" {
		baseName = stem
		pageNumber = 1
		logger.Warn("Could not determine base name, using whole stem", "filename", filename)
	}
	return baseName, pageNumber
}

// GroupCase turns one case folder's page refs into document groups keyed by
// base name, pages sorted ascending by parsed page index. Ties keep a stable
// path order so the page sequence submitted to the model is deterministic.
func GroupCase(caseID string, pages []docModel.PageRef) []docModel.DocumentGroup {
	byBase := make(map[string][]docModel.PageRef)
	for _, page := range pages {
		base, pageNumber := ParseFilename(page.Path)
		page.PageIndex = pageNumber
		byBase[base] = append(byBase[base], page)
	}

	baseNames := make([]string, 0, len(byBase))
	for base := range byBase {
		baseNames = append(baseNames, base)
	}
	sort.Strings(baseNames)

	groups := make([]docModel.DocumentGroup, 0, len(byBase))
	for _, base := range baseNames {
		refs := byBase[base]
		sort.SliceStable(refs, func(i, j int) bool {
			if refs[i].PageIndex != refs[j].PageIndex {
				return refs[i].PageIndex < refs[j].PageIndex
			}
			return refs[i].Path < refs[j].Path
		})
		groups = append(groups, docModel.DocumentGroup{
			CaseID:   caseID,
			BaseName: base,
			Pages:    refs,
		})
	}
	return groups
}
