// Package sinkstub is an in-memory stand-in for the platform metadata API.
// It serves the import, export and analytics rebuild endpoints the sink
// client uses so that local runs and tests need no live instance.
package sinkstub

import (
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"metarecon/pkg/domain"
)

// Import strategies understood by the stub.
const (
	StrategyCreateAndUpdate = "CREATE_AND_UPDATE"
	StrategyCreate          = "CREATE"
	StrategyUpdate          = "UPDATE"
)

// Error codes used in object reports.
const (
	CodeInvalidID     = "E4014"
	CodeMissingID     = "E4000"
	CodeAlreadyExists = "E5000"
	CodeNotFound      = "E5001"
)

// Options configures a Server.
type Options struct {
	Username string
	Password string
	// ValidID rejects records on import. Nil accepts every non-empty id.
	ValidID func(string) bool
	Logger  zerolog.Logger
}

type collection struct {
	order []string
	byID  map[string][]byte
}

// Server holds imported metadata in memory.
type Server struct {
	opts     Options
	echo     *echo.Echo
	mu       sync.Mutex
	store    map[string]*collection
	rebuilds int
}

// New builds the server and registers its routes.
func New(opts Options) *Server {
	if opts.ValidID == nil {
		opts.ValidID = func(id string) bool { return id != "" }
	}
	s := &Server{opts: opts, store: map[string]*collection{}}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(requestLogger(opts.Logger))
	if opts.Username != "" {
		e.Use(echomw.BasicAuth(func(user, pass string, _ echo.Context) (bool, error) {
			return user == opts.Username && pass == opts.Password, nil
		}))
	}
	s.RegisterRoutes(e.Group("/api"))
	s.echo = e
	return s
}

// RegisterRoutes mounts the metadata endpoints on g.
func (s *Server) RegisterRoutes(g *echo.Group) {
	g.POST("/metadata", s.Import)
	g.GET("/metadata", s.Export)
	g.POST("/resourceTables/rebuild", s.Rebuild)
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler { return s.echo }

// Echo exposes the underlying echo instance for Start and Shutdown.
func (s *Server) Echo() *echo.Echo { return s.echo }

func requestLogger(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			err := next(c)
			evt := logger.Info()
			if err != nil {
				evt = logger.Error().Err(err)
			}
			evt.
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", c.Response().Status).
				Dur("latency", time.Since(start)).
				Msg("request")
			return err
		}
	}
}

type stats struct {
	Created int `json:"created"`
	Updated int `json:"updated"`
	Deleted int `json:"deleted"`
	Ignored int `json:"ignored"`
	Total   int `json:"total"`
}

type errorReport struct {
	Message       string `json:"message"`
	MainKlass     string `json:"mainKlass"`
	ErrorCode     string `json:"errorCode"`
	ErrorProperty string `json:"errorProperty,omitempty"`
}

type objectReport struct {
	Klass        string        `json:"klass"`
	Index        int           `json:"index"`
	UID          string        `json:"uid,omitempty"`
	ErrorReports []errorReport `json:"errorReports"`
}

type typeReport struct {
	Klass         string         `json:"klass"`
	Stats         stats          `json:"stats"`
	ObjectReports []objectReport `json:"objectReports,omitempty"`
}

type importReport struct {
	Status      string       `json:"status"`
	Stats       stats        `json:"stats"`
	TypeReports []typeReport `json:"typeReports"`
}

type envelope struct {
	HTTPStatus     string       `json:"httpStatus"`
	HTTPStatusCode int          `json:"httpStatusCode"`
	Status         string       `json:"status"`
	Message        string       `json:"message,omitempty"`
	Response       importReport `json:"response"`
}

type pending struct {
	coll string
	id   string
	raw  []byte
}

// Import handles POST /api/metadata. Objects with an unacceptable id are
// ignored and reported; the rest are created or updated. With atomicMode=ALL
// any error rejects the whole payload.
func (s *Server) Import(c echo.Context) error {
	strategy := c.QueryParam("importStrategy")
	if strategy == "" {
		strategy = StrategyCreateAndUpdate
	}
	switch strategy {
	case StrategyCreateAndUpdate, StrategyCreate, StrategyUpdate:
	default:
		return echo.NewHTTPError(http.StatusBadRequest, "unsupported importStrategy "+strategy)
	}
	atomic := strings.EqualFold(c.QueryParam("atomicMode"), "ALL")

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if !gjson.ValidBytes(body) || !gjson.ParseBytes(body).IsObject() {
		return echo.NewHTTPError(http.StatusBadRequest, "body must be a JSON object")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var rep importReport
	var writes []pending
	gjson.ParseBytes(body).ForEach(func(key, value gjson.Result) bool {
		coll := key.String()
		if coll == domain.EnvelopeKey || !value.IsArray() {
			return true
		}
		tr := typeReport{Klass: coll}
		seen := map[string]bool{}
		for i, obj := range value.Array() {
			id := obj.Get("id").String()
			if er, ok := s.validate(coll, id, strategy, seen); !ok {
				tr.Stats.Ignored++
				tr.ObjectReports = append(tr.ObjectReports, objectReport{Klass: coll, Index: i, UID: id, ErrorReports: []errorReport{er}})
				continue
			}
			seen[id] = true
			if s.exists(coll, id) {
				tr.Stats.Updated++
			} else {
				tr.Stats.Created++
			}
			writes = append(writes, pending{coll: coll, id: id, raw: []byte(obj.Raw)})
		}
		tr.Stats.Total = tr.Stats.Created + tr.Stats.Updated + tr.Stats.Ignored
		rep.TypeReports = append(rep.TypeReports, tr)
		rep.Stats.Created += tr.Stats.Created
		rep.Stats.Updated += tr.Stats.Updated
		rep.Stats.Ignored += tr.Stats.Ignored
		rep.Stats.Total += tr.Stats.Total
		return true
	})

	rep.Status = "OK"
	code := http.StatusOK
	switch {
	case rep.Stats.Ignored > 0 && atomic:
		rep.Status = "ERROR"
		code = http.StatusConflict
		rep.Stats.Ignored = rep.Stats.Total
		rep.Stats.Created, rep.Stats.Updated = 0, 0
		writes = nil
	case rep.Stats.Ignored > 0 && rep.Stats.Created+rep.Stats.Updated == 0:
		rep.Status = "ERROR"
		code = http.StatusConflict
	case rep.Stats.Ignored > 0:
		rep.Status = "WARNING"
	}
	for _, w := range writes {
		s.put(w.coll, w.id, w.raw)
	}
	if rep.TypeReports == nil {
		rep.TypeReports = []typeReport{}
	}
	s.opts.Logger.Info().
		Str("status", rep.Status).
		Int("created", rep.Stats.Created).
		Int("updated", rep.Stats.Updated).
		Int("ignored", rep.Stats.Ignored).
		Msg("metadata imported")
	return c.JSON(code, envelope{
		HTTPStatus:     http.StatusText(code),
		HTTPStatusCode: code,
		Status:         rep.Status,
		Response:       rep,
	})
}

func (s *Server) validate(coll, id, strategy string, seen map[string]bool) (errorReport, bool) {
	switch {
	case id == "":
		return errorReport{Message: "Missing required property `id`", MainKlass: coll, ErrorCode: CodeMissingID, ErrorProperty: "id"}, false
	case !s.opts.ValidID(id):
		return errorReport{Message: "Invalid UID `" + id + "` for property `id`", MainKlass: coll, ErrorCode: CodeInvalidID, ErrorProperty: "id"}, false
	case seen[id] || (strategy == StrategyCreate && s.exists(coll, id)):
		return errorReport{Message: "Object `" + id + "` already exists", MainKlass: coll, ErrorCode: CodeAlreadyExists, ErrorProperty: "id"}, false
	case strategy == StrategyUpdate && !s.exists(coll, id):
		return errorReport{Message: "Object `" + id + "` does not exist", MainKlass: coll, ErrorCode: CodeNotFound, ErrorProperty: "id"}, false
	}
	return errorReport{}, true
}

func (s *Server) exists(coll, id string) bool {
	c, ok := s.store[coll]
	if !ok {
		return false
	}
	_, ok = c.byID[id]
	return ok
}

func (s *Server) put(coll, id string, raw []byte) {
	c, ok := s.store[coll]
	if !ok {
		c = &collection{byID: map[string][]byte{}}
		s.store[coll] = c
	}
	if _, ok := c.byID[id]; !ok {
		c.order = append(c.order, id)
	}
	c.byID[id] = raw
}

// Export handles GET /api/metadata?{collection}=true. Collections are
// written in name order after a stub system envelope.
func (s *Server) Export(c echo.Context) error {
	var names []string
	for k, v := range c.QueryParams() {
		if len(v) > 0 && v[0] == "true" {
			names = append(names, k)
		}
	}
	if len(names) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "no collection requested")
	}
	sort.Strings(names)

	s.mu.Lock()
	defer s.mu.Unlock()
	doc := domain.NewDocument()
	_ = doc.SetRaw(domain.EnvelopeKey, []byte(`{"version":"stub"}`))
	for _, name := range names {
		coll := domain.Collection{Key: name}
		if stored, ok := s.store[name]; ok {
			for _, id := range stored.order {
				var r domain.Record
				if err := r.UnmarshalJSON(stored.byID[id]); err != nil {
					return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
				}
				coll.Records = append(coll.Records, r)
			}
		}
		if err := doc.SetCollection(coll); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
		}
	}
	out, err := doc.Encode()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.Blob(http.StatusOK, echo.MIMEApplicationJSON, out)
}

// Rebuild handles POST /api/resourceTables/rebuild.
func (s *Server) Rebuild(c echo.Context) error {
	s.mu.Lock()
	s.rebuilds++
	s.mu.Unlock()
	return c.JSON(http.StatusOK, map[string]any{
		"httpStatus":     "OK",
		"httpStatusCode": http.StatusOK,
		"status":         "OK",
		"message":        "Initiated resource table update",
	})
}

// IDs returns the stored ids of coll in first-import order.
func (s *Server) IDs(coll string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.store[coll]
	if !ok {
		return nil
	}
	return append([]string(nil), c.order...)
}

// Rebuilds reports how many analytics rebuilds were requested.
func (s *Server) Rebuilds() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rebuilds
}
