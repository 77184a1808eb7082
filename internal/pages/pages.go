// Package pages maps a request context onto a canonical page identity:
// an optional object id, a page type and the URL visits are grouped by.
package pages

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
)

// Page types recorded on visits.
const (
	TypePost            = "post"
	TypeAuthor          = "author"
	TypeSearch          = "search"
	TypePostTypeArchive = "post_type_archive"
	TypeDateArchive     = "date_archive"
	TypeHome            = "home"
	TypeNotFound        = "404"
)

// Kind is the classified shape of a request. Exactly one variant applies
// per request; when a source could match several, callers pick in the
// order Singular, Term, Author, Search, PostTypeArchive, DateArchive,
// Home, NotFound, Fallback.
type Kind interface {
	kind() string
}

// Singular is a single post, page or custom post type entry.
type Singular struct {
	PostID    int64
	PostType  string
	Permalink string
}

// Term is a category, tag or custom taxonomy archive.
type Term struct {
	TermID   int64
	Taxonomy string
	Slug     string
	Link     string
}

// Author is an author archive.
type Author struct {
	AuthorID int64
	Nicename string
	Link     string
}

// Search is a search results page.
type Search struct {
	Query string
	Link  string
}

// PostTypeArchive is the archive listing of a post type.
type PostTypeArchive struct {
	PostType string
	Link     string
}

// DateArchive is a year, month or day archive. Zero fields are absent.
type DateArchive struct {
	Year  int
	Month int
	Day   int
	Link  string
}

// Home is the front page or the posts index.
type Home struct{}

// NotFound is a 404 response.
type NotFound struct{}

// Fallback is anything else.
type Fallback struct{}

func (Singular) kind() string        { return "singular" }
func (Term) kind() string            { return "term" }
func (Author) kind() string          { return "author" }
func (Search) kind() string          { return "search" }
func (PostTypeArchive) kind() string { return "post_type_archive" }
func (DateArchive) kind() string     { return "date_archive" }
func (Home) kind() string            { return "home" }
func (NotFound) kind() string        { return "not_found" }
func (Fallback) kind() string        { return "fallback" }

// KindName returns a stable name for k, used in logs and payloads.
func KindName(k Kind) string {
	if k == nil {
		return "fallback"
	}
	return k.kind()
}

// Request is what the classifier needs to know about a page view.
type Request struct {
	Kind Kind
	// RequestURI is the raw path and query as requested.
	RequestURI string
	// QueriedObjectID is the id of whatever object the request resolved to,
	// used when the kind itself carries none.
	QueriedObjectID *int64
}

// Page is the canonical identity of a request.
type Page struct {
	ID      *int64
	Type    string
	URL     string
	URLHash string
}

// Linker builds canonical links for variants that arrive without one.
// An error or empty string means the link cannot be made.
type Linker interface {
	Permalink(postID int64, postType string) (string, error)
	TermLink(termID int64, taxonomy, slug string) (string, error)
	AuthorLink(authorID int64, nicename string) (string, error)
	SearchLink(query string) (string, error)
	PostTypeArchiveLink(postType string) (string, error)
	DayLink(year, month, day int) (string, error)
	MonthLink(year, month int) (string, error)
	YearLink(year int) (string, error)
	HomeURL(path string) string
}

// Classifier resolves requests into pages.
type Classifier struct {
	linker Linker
}

// NewClassifier creates a classifier that fills missing links with linker.
func NewClassifier(linker Linker) *Classifier {
	return &Classifier{linker: linker}
}

// Classify never fails: when a canonical link cannot be produced the raw
// request URL is used instead.
func (c *Classifier) Classify(req Request) Page {
	rawURL := c.linker.HomeURL(req.RequestURI)
	page := Page{ID: req.QueriedObjectID, URL: rawURL}

	switch k := req.Kind.(type) {
	case Singular:
		page.ID = optionalID(k.PostID, req.QueriedObjectID)
		page.Type = k.PostType
		if page.Type == "" {
			page.Type = TypePost
		}
		page.URL = firstLink(rawURL, k.Permalink, func() (string, error) {
			if k.PostID == 0 {
				return "", fmt.Errorf("no post id")
			}
			return c.linker.Permalink(k.PostID, page.Type)
		})

	case Term:
		// Without a term id the request keeps its raw identity.
		if k.TermID != 0 {
			id := k.TermID
			page.ID = &id
			page.Type = k.Taxonomy
			page.URL = firstLink(rawURL, k.Link, func() (string, error) {
				return c.linker.TermLink(k.TermID, k.Taxonomy, k.Slug)
			})
		}

	case Author:
		if k.AuthorID != 0 {
			id := k.AuthorID
			page.ID = &id
			page.Type = TypeAuthor
			page.URL = firstLink(rawURL, k.Link, func() (string, error) {
				return c.linker.AuthorLink(k.AuthorID, k.Nicename)
			})
		}

	case Search:
		page.Type = TypeSearch
		page.URL = firstLink(rawURL, k.Link, func() (string, error) {
			return c.linker.SearchLink(k.Query)
		})

	case PostTypeArchive:
		page.Type = TypePostTypeArchive
		if k.PostType != "" {
			page.URL = firstLink(rawURL, k.Link, func() (string, error) {
				return c.linker.PostTypeArchiveLink(k.PostType)
			})
		}

	case DateArchive:
		page.Type = TypeDateArchive
		page.URL = firstLink(rawURL, k.Link, func() (string, error) {
			switch {
			case k.Year != 0 && k.Month != 0 && k.Day != 0:
				return c.linker.DayLink(k.Year, k.Month, k.Day)
			case k.Year != 0 && k.Month != 0:
				return c.linker.MonthLink(k.Year, k.Month)
			case k.Year != 0:
				return c.linker.YearLink(k.Year)
			}
			return "", fmt.Errorf("no date parts")
		})

	case Home:
		page.Type = TypeHome
		page.URL = c.linker.HomeURL("/")

	case NotFound:
		page.Type = TypeNotFound

	default:
		// Fallback and unknown kinds keep the request URL and no type.
	}

	page.URLHash = Hash(page.URL)
	return page
}

// Hash is the grouping key for a canonical URL: lowercase hex SHA-1.
func Hash(pageURL string) string {
	sum := sha1.Sum([]byte(pageURL))
	return hex.EncodeToString(sum[:])
}

func optionalID(id int64, fallback *int64) *int64 {
	if id == 0 {
		return fallback
	}
	return &id
}

func firstLink(rawURL, provided string, build func() (string, error)) string {
	if provided != "" {
		return provided
	}
	if link, err := build(); err == nil && link != "" {
		return link
	}
	return rawURL
}

// SiteLinker derives links with the default permalink layout of a site
// rooted at a home URL.
type SiteLinker struct {
	home string
}

// NewSiteLinker creates a linker for homeURL (scheme and host, optional
// base path).
func NewSiteLinker(homeURL string) *SiteLinker {
	return &SiteLinker{home: strings.TrimRight(homeURL, "/")}
}

// HomeURL joins path onto the home URL.
func (l *SiteLinker) HomeURL(path string) string {
	if path == "" {
		path = "/"
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return l.home + path
}

// Permalink implements Linker.
func (l *SiteLinker) Permalink(postID int64, postType string) (string, error) {
	switch postType {
	case "", TypePost:
		return l.HomeURL(fmt.Sprintf("/?p=%d", postID)), nil
	case "page":
		return l.HomeURL(fmt.Sprintf("/?page_id=%d", postID)), nil
	default:
		return l.HomeURL(fmt.Sprintf("/?post_type=%s&p=%d", url.QueryEscape(postType), postID)), nil
	}
}

// TermLink implements Linker.
func (l *SiteLinker) TermLink(termID int64, taxonomy, slug string) (string, error) {
	switch taxonomy {
	case "category":
		return l.HomeURL(fmt.Sprintf("/?cat=%d", termID)), nil
	case "post_tag":
		if slug == "" {
			return "", fmt.Errorf("tag %d has no slug", termID)
		}
		return l.HomeURL("/?tag=" + url.QueryEscape(slug)), nil
	case "":
		return "", fmt.Errorf("term %d has no taxonomy", termID)
	default:
		if slug == "" {
			return "", fmt.Errorf("term %d has no slug", termID)
		}
		return l.HomeURL(fmt.Sprintf("/?%s=%s", url.QueryEscape(taxonomy), url.QueryEscape(slug))), nil
	}
}

// AuthorLink implements Linker.
func (l *SiteLinker) AuthorLink(authorID int64, _ string) (string, error) {
	return l.HomeURL(fmt.Sprintf("/?author=%d", authorID)), nil
}

// SearchLink implements Linker.
func (l *SiteLinker) SearchLink(query string) (string, error) {
	return l.HomeURL("/?s=" + url.QueryEscape(query)), nil
}

// PostTypeArchiveLink implements Linker.
func (l *SiteLinker) PostTypeArchiveLink(postType string) (string, error) {
	if postType == "" {
		return "", fmt.Errorf("empty post type")
	}
	return l.HomeURL("/?post_type=" + url.QueryEscape(postType)), nil
}

// DayLink implements Linker.
func (l *SiteLinker) DayLink(year, month, day int) (string, error) {
	return l.HomeURL(fmt.Sprintf("/?m=%04d%02d%02d", year, month, day)), nil
}

// MonthLink implements Linker.
func (l *SiteLinker) MonthLink(year, month int) (string, error) {
	return l.HomeURL(fmt.Sprintf("/?m=%04d%02d", year, month)), nil
}

// YearLink implements Linker.
func (l *SiteLinker) YearLink(year int) (string, error) {
	return l.HomeURL(fmt.Sprintf("/?m=%04d", year)), nil
}
