package v1

import (
	"errors"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"

	"usertracker/internal/pages"
	"usertracker/internal/services"
	"usertracker/internal/visits"
)

const (
	msgVisitAccepted  = "Visit accepted"
	errInvalidRequest = "Invalid request"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// KindParams describes what the page request resolved to. Type selects
// the variant; the other fields apply to the matching variant only.
type KindParams struct {
	Type     string `json:"type" validate:"omitempty,oneof=singular term author search post_type_archive date_archive home not_found fallback"`
	PostID   int64  `json:"post_id" validate:"gte=0"`
	PostType string `json:"post_type" validate:"max=50"`
	TermID   int64  `json:"term_id" validate:"gte=0"`
	Taxonomy string `json:"taxonomy" validate:"max=50"`
	Slug     string `json:"slug" validate:"max=200"`
	AuthorID int64  `json:"author_id" validate:"gte=0"`
	Nicename string `json:"nicename" validate:"max=200"`
	Query    string `json:"query" validate:"max=500"`
	Year     int    `json:"year" validate:"gte=0,lte=9999"`
	Month    int    `json:"month" validate:"gte=0,lte=12"`
	Day      int    `json:"day" validate:"gte=0,lte=31"`
	Link     string `json:"link" validate:"omitempty,url,max=2048"`
}

func (k KindParams) toKind() pages.Kind {
	switch k.Type {
	case "singular":
		return pages.Singular{PostID: k.PostID, PostType: k.PostType, Permalink: k.Link}
	case "term":
		return pages.Term{TermID: k.TermID, Taxonomy: k.Taxonomy, Slug: k.Slug, Link: k.Link}
	case "author":
		return pages.Author{AuthorID: k.AuthorID, Nicename: k.Nicename, Link: k.Link}
	case "search":
		return pages.Search{Query: k.Query, Link: k.Link}
	case "post_type_archive":
		return pages.PostTypeArchive{PostType: k.PostType, Link: k.Link}
	case "date_archive":
		return pages.DateArchive{Year: k.Year, Month: k.Month, Day: k.Day, Link: k.Link}
	case "home":
		return pages.Home{}
	case "not_found":
		return pages.NotFound{}
	default:
		return pages.Fallback{}
	}
}

type CreateVisitParams struct {
	URL             string     `json:"url" validate:"omitempty,url,max=2048"`
	RequestURI      string     `json:"request_uri" validate:"required_without=URL,max=2048"`
	QueriedObjectID *int64     `json:"queried_object_id"`
	Kind            KindParams `json:"kind"`
	Referrer        string     `json:"referrer" validate:"max=2048"`
	UserID          *uint64    `json:"user_id"`
	DeviceID        string     `json:"device_id" validate:"max=64"`
	SessionID       string     `json:"session_id" validate:"max=64"`
	UserAgent       string     `json:"user_agent" validate:"max=1024"`
	Admin           bool       `json:"admin"`
	Feed            bool       `json:"feed"`
	Preview         bool       `json:"preview"`
	API             bool       `json:"api"`
}

// requestURI prefers the explicit request_uri and otherwise takes path and
// query from url.
func (p CreateVisitParams) requestURI() string {
	if p.RequestURI != "" {
		return p.RequestURI
	}
	u, err := url.Parse(p.URL)
	if err != nil {
		return "/"
	}
	return u.RequestURI()
}

// CreateVisitHandler records a page view. Well-formed requests always get
// 202: skipped and failed recordings are invisible to the sender.
func CreateVisitHandler(svc *services.Services) func(*cartridge.Context) error {
	return func(ctx *cartridge.Context) error {
		var params CreateVisitParams
		if err := ctx.BodyParser(&params); err != nil {
			ctx.Logger.Debug("Failed to parse visit request", slog.Any("error", err))
			return handleError(ctx.Ctx, fiber.NewError(http.StatusBadRequest, errInvalidRequest))
		}
		if err := validate.Struct(params); err != nil {
			ctx.Logger.Debug("Invalid visit request", slog.Any("error", err))
			return handleError(ctx.Ctx, err)
		}

		rc := requestContext(ctx, svc, params)
		visit, err := svc.Recorder.Record(ctx.UserContext(), rc)
		if err != nil {
			ctx.Logger.Error("Failed to record visit", slog.Any("error", err))
		}

		return ctx.Status(http.StatusAccepted).JSON(fiber.Map{
			"message":  msgVisitAccepted,
			"status":   http.StatusAccepted,
			"recorded": visit != nil,
		})
	}
}

func requestContext(ctx *cartridge.Context, svc *services.Services, params CreateVisitParams) visits.RequestContext {
	userAgent := params.UserAgent
	if userAgent == "" {
		userAgent = ctx.Get("User-Agent")
		if forwardedUA := ctx.Get("X-Forwarded-User-Agent"); forwardedUA != "" {
			userAgent = forwardedUA
		}
	}

	deviceID := params.DeviceID
	if deviceID == "" {
		deviceID = ctx.Cookies(svc.Config.DeviceCookieName)
	}
	sessionID := params.SessionID
	if sessionID == "" {
		sessionID = ctx.Cookies(svc.Config.SessionCookieName)
	}

	return visits.RequestContext{
		Page: pages.Request{
			Kind:            params.Kind.toKind(),
			RequestURI:      params.requestURI(),
			QueriedObjectID: params.QueriedObjectID,
		},
		UserID:     params.UserID,
		DeviceID:   deviceID,
		SessionID:  sessionID,
		IP:         getClientIP(ctx.Ctx),
		UserAgent:  userAgent,
		Referrer:   params.Referrer,
		DoNotTrack: ctx.Get("DNT"),
		IsAdmin:    params.Admin,
		IsFeed:     params.Feed,
		IsPreview:  params.Preview,
		IsAPI:      params.API,
	}
}

type GeoParams struct {
	Lat       *float64 `json:"lat" validate:"required,gte=-90,lte=90"`
	Lng       *float64 `json:"lng" validate:"required,gte=-180,lte=180"`
	SessionID string   `json:"session_id" validate:"max=64"`
}

// UpdateGeoHandler stores browser coordinates on the session's latest
// visit.
func UpdateGeoHandler(svc *services.Services) func(*cartridge.Context) error {
	return func(ctx *cartridge.Context) error {
		var params GeoParams
		if err := ctx.BodyParser(&params); err != nil {
			return handleError(ctx.Ctx, fiber.NewError(http.StatusBadRequest, errInvalidRequest))
		}
		if err := validate.Struct(params); err != nil {
			return handleError(ctx.Ctx, err)
		}

		sessionID := params.SessionID
		if sessionID == "" {
			sessionID = ctx.Cookies(svc.Config.SessionCookieName)
		}

		updated, err := visits.UpdateSessionGeo(ctx.UserContext(), svc.DB, ctx.Logger, sessionID, *params.Lat, *params.Lng)
		switch {
		case errors.Is(err, visits.ErrNoSession), errors.Is(err, visits.ErrInvalidCoordinates):
			return handleError(ctx.Ctx, fiber.NewError(http.StatusBadRequest, err.Error()))
		case err != nil:
			ctx.Logger.Error("Failed to store coordinates", slog.Any("error", err))
			return ctx.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to store coordinates"})
		}

		return ctx.JSON(fiber.Map{"ok": updated})
	}
}

func handleError(c *fiber.Ctx, err error) error {
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return c.Status(fiberErr.Code).JSON(fiber.Map{
			"error": fiberErr.Message,
		})
	}

	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		fields := make(map[string]string, len(validationErrs))
		for _, fe := range validationErrs {
			fields[fe.Field()] = fe.Tag()
		}
		return c.Status(http.StatusUnprocessableEntity).JSON(fiber.Map{
			"error":  errInvalidRequest,
			"fields": fields,
		})
	}

	return c.Status(http.StatusUnprocessableEntity).JSON(fiber.Map{
		"error": errInvalidRequest,
	})
}
