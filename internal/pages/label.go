package pages

import (
	"net/url"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

var knownTypes = map[string]bool{
	"":                  true,
	TypePost:            true,
	"page":              true,
	TypeAuthor:          true,
	TypeSearch:          true,
	TypePostTypeArchive: true,
	TypeDateArchive:     true,
	TypeHome:            true,
	TypeNotFound:        true,
}

// Label renders a short human label for a report row. Taxonomy archives
// read "Category: News", authors "Author: Jane Doe"; anything without a
// usable slug falls back to the URL.
func Label(pageType, pageURL string) string {
	caser := cases.Title(language.English)

	switch pageType {
	case TypeSearch:
		return "Search Results"
	case TypeHome:
		return "Home"
	case TypeNotFound:
		return "Not Found: " + pageURL
	case TypeAuthor:
		if name := slugTitle(pageURL); name != "" {
			return "Author: " + name
		}
		return pageURL
	}

	if !knownTypes[pageType] {
		if name := slugTitle(pageURL); name != "" {
			return caser.String(strings.ReplaceAll(pageType, "_", " ")) + ": " + name
		}
		return pageURL
	}

	if name := slugTitle(pageURL); name != "" {
		return name
	}
	return pageURL
}

func slugTitle(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	slug := segments[len(segments)-1]
	if slug == "" {
		return ""
	}
	slug = strings.TrimSuffix(slug, ".html")
	slug = strings.NewReplacer("-", " ", "_", " ").Replace(slug)
	return cases.Title(language.English).String(slug)
}
