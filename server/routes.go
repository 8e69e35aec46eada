// Package server - Haupt-Router und Server-Setup fuer vqtok
// Beinhaltet: Server-Struct, New(), Router-Registrierung
package server

import (
	"net"
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/semaphore"

	"github.com/ollama/vqtok/api"
	"github.com/ollama/vqtok/envconfig"
	"github.com/ollama/vqtok/model/models/maskgit"
	"github.com/ollama/vqtok/store"
	"github.com/ollama/vqtok/version"
)

// maxRequestSize begrenzt JSON-Bodies (base64-Bilder)
const maxRequestSize = 32 << 20

var mode string = gin.DebugMode

func init() {
	switch mode {
	case gin.DebugMode:
	case gin.ReleaseMode:
	case gin.TestMode:
	default:
		mode = gin.DebugMode
	}

	gin.SetMode(mode)
}

// Server bedient einen geladenen Tokenizer ueber HTTP
type Server struct {
	addr net.Addr

	model  *maskgit.Model
	digest string

	// store ist nil wenn der Token-Cache deaktiviert ist
	store *store.Store

	// sem begrenzt gleichzeitige Forward-Passes
	sem *semaphore.Weighted

	maxImageSize int
}

// New erstellt einen Server fuer m. digest identifiziert den Checkpoint im
// Token-Cache, st darf nil sein.
func New(m *maskgit.Model, digest string, st *store.Store) *Server {
	return &Server{
		model:        m,
		digest:       digest,
		store:        st,
		sem:          semaphore.NewWeighted(int64(max(envconfig.NumParallel(), 1))),
		maxImageSize: int(envconfig.MaxImageSize()),
	}
}

// GenerateRoutes erstellt und konfiguriert den HTTP-Router
func (s *Server) GenerateRoutes() http.Handler {
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowWildcard = true
	corsConfig.AllowBrowserExtensions = true
	corsConfig.AllowHeaders = []string{
		"Authorization",
		"Content-Type",
		"User-Agent",
		"Accept",
		"X-Requested-With",
	}
	corsConfig.AllowOrigins = envconfig.AllowedOrigins()

	r := gin.Default()
	r.HandleMethodNotAllowed = true
	r.Use(
		cors.New(corsConfig),
		allowedHostsMiddleware(s.addr),
		maxBodyMiddleware(maxRequestSize),
	)

	// General
	r.HEAD("/", func(c *gin.Context) { c.String(http.StatusOK, "vqtok is running") })
	r.GET("/", func(c *gin.Context) { c.String(http.StatusOK, "vqtok is running") })
	r.HEAD("/api/version", func(c *gin.Context) { c.JSON(http.StatusOK, api.VersionResponse{Version: version.Version}) })
	r.GET("/api/version", func(c *gin.Context) { c.JSON(http.StatusOK, api.VersionResponse{Version: version.Version}) })

	// Tokenizer
	r.GET("/api/show", s.ShowHandler)
	r.POST("/api/tokenize", s.TokenizeHandler)
	r.POST("/api/detokenize", s.DetokenizeHandler)

	return r
}
