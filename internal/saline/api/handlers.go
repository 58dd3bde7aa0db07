// Package api exposes the application over HTTP as a JSON API served by gin.
// Handlers are thin: bind, call the app façade, translate the error
// taxonomy into status codes.
package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/salinechat/saline/internal/saline/app"
	"github.com/salinechat/saline/internal/saline/contextfile"
	"github.com/salinechat/saline/internal/saline/fault"
	"github.com/salinechat/saline/internal/saline/gateway"
)

// Handler wires HTTP routes to the application.
type Handler struct {
	app *app.App
}

// NewHandler constructs a Handler over a.
func NewHandler(a *app.App) *Handler {
	return &Handler{app: a}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(TraceMiddleware())

	api := router.Group("/api")

	api.GET("/sessions", h.listSessions)
	api.GET("/sessions/sidebar", h.sessionSidebar)
	api.POST("/sessions", h.createSession)
	api.GET("/sessions/:id", h.getSession)
	api.DELETE("/sessions/:id", h.deleteSession)
	api.PUT("/sessions/:id/title", h.renameSession)
	api.POST("/sessions/:id/pin", h.togglePin)
	api.POST("/sessions/:id/messages", h.sendMessage)

	api.GET("/personas", h.listPersonas)
	api.POST("/personas", h.createPersona)
	api.DELETE("/personas/:id", h.deletePersona)
	api.PUT("/personas/:id", h.renamePersona)
	api.GET("/personas/:id/content", h.personaContent)
	api.PUT("/personas/:id/content", h.savePersonaContent)
	api.PUT("/personas/:id/model", h.setPersonaModel)

	api.GET("/context-files", h.listContextFiles)
	api.POST("/context-files", h.uploadContextFile)
	api.GET("/context-files/:name", h.contextFileContent)
	api.PUT("/context-files/:name", h.saveContextFile)
	api.POST("/context-files/:name/toggle", h.toggleContextFile)
	api.DELETE("/context-files/:name", h.deleteContextFile)

	api.GET("/memory", h.showMemory)
	api.POST("/memory/update", h.updateMemory)
	api.POST("/memory/modify", h.modifyMemory)
	api.DELETE("/memory", h.wipeMemory)

	api.GET("/models", h.listModels)
	api.GET("/config", h.getConfig)
	api.PUT("/config", h.setConfig)
}

// statusFor maps the fault taxonomy to HTTP status codes.
func statusFor(err error) int {
	switch {
	case fault.IsValidation(err):
		return http.StatusBadRequest
	case fault.IsNotFound(err):
		return http.StatusNotFound
	case fault.IsProtected(err):
		return http.StatusForbidden
	case fault.IsGateway(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func fail(c *gin.Context, err error) {
	c.JSON(statusFor(err), gin.H{"error": err.Error()})
}

// --- sessions ---

func (h *Handler) listSessions(c *gin.Context) {
	summaries, err := h.app.Sessions().List()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": summaries})
}

func (h *Handler) sessionSidebar(c *gin.Context) {
	sb, err := h.app.Sessions().SidebarView()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, sb)
}

type createSessionRequest struct {
	Persona string `json:"persona"`
}

func (h *Handler) createSession(c *gin.Context) {
	var req createSessionRequest
	// Body is optional; an empty body means the default persona.
	_ = c.ShouldBindJSON(&req)

	sess, err := h.app.NewSession(req.Persona)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":      sess.ID,
		"title":   sess.Title,
		"persona": sess.Persona,
	})
}

func (h *Handler) getSession(c *gin.Context) {
	sess, err := h.app.Sessions().Load(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"id":       sess.ID,
		"title":    sess.Title,
		"persona":  sess.Persona,
		"pinned":   sess.Pinned,
		"messages": sess.Messages,
	})
}

func (h *Handler) deleteSession(c *gin.Context) {
	if err := h.app.Sessions().Delete(c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type renameSessionRequest struct {
	Title string `json:"title"`
}

func (h *Handler) renameSession(c *gin.Context) {
	var req renameSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := h.app.Sessions().Rename(c.Param("id"), req.Title); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"title": req.Title})
}

func (h *Handler) togglePin(c *gin.Context) {
	pinned, err := h.app.Sessions().TogglePin(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"pinned": pinned})
}

type sendMessageRequest struct {
	Message string `json:"message"`
}

// sendMessage runs one exchange. A failed gateway call still answers 200:
// the failure is recorded in the transcript as an ERROR-prefixed assistant
// message and the client renders it like any other reply.
func (h *Handler) sendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	reply, sess, err := h.app.SendMessage(c.Request.Context(), c.Param("id"), req.Message)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"reply": reply,
		"title": sess.Title,
	})
}

// --- personas ---

func (h *Handler) listPersonas(c *gin.Context) {
	personas, err := h.app.Personas().List()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"personas": personas})
}

type createPersonaRequest struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

func (h *Handler) createPersona(c *gin.Context) {
	var req createPersonaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := h.app.Personas().Create(req.ID, req.Content); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"id": req.ID})
}

func (h *Handler) deletePersona(c *gin.Context) {
	if err := h.app.DeletePersona(c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type renamePersonaRequest struct {
	NewID   string `json:"new_id"`
	Content string `json:"content"`
}

func (h *Handler) renamePersona(c *gin.Context) {
	var req renamePersonaRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := h.app.RenamePersona(c.Param("id"), req.NewID, req.Content); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"id": req.NewID})
}

func (h *Handler) personaContent(c *gin.Context) {
	content, err := h.app.Personas().Content(c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	model, _ := h.app.Personas().ModelOverride(c.Param("id"))
	c.JSON(http.StatusOK, gin.H{"content": content, "model": model})
}

type contentRequest struct {
	Content string `json:"content"`
}

func (h *Handler) savePersonaContent(c *gin.Context) {
	var req contentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := h.app.Personas().SaveContent(c.Param("id"), req.Content); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type personaModelRequest struct {
	Model string `json:"model"`
}

func (h *Handler) setPersonaModel(c *gin.Context) {
	var req personaModelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := h.app.Personas().SetModelOverride(c.Param("id"), req.Model); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"model": req.Model})
}

// --- context files ---

// contextStore picks the store from the ?persona query parameter: absent
// means the global scope.
func (h *Handler) contextStore(c *gin.Context) *contextfile.Store {
	if p := c.Query("persona"); p != "" {
		return h.app.PersonaFiles(p)
	}
	return h.app.Global()
}

func (h *Handler) listContextFiles(c *gin.Context) {
	files, err := h.contextStore(c).List()
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"files": files})
}

type uploadContextFileRequest struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

func (h *Handler) uploadContextFile(c *gin.Context) {
	var req uploadContextFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	name, err := h.contextStore(c).Add(req.Name, []byte(req.Content))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"name": name})
}

func (h *Handler) contextFileContent(c *gin.Context) {
	content, err := h.contextStore(c).Content(c.Param("name"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": c.Param("name"), "content": content})
}

func (h *Handler) saveContextFile(c *gin.Context) {
	var req contentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if err := h.contextStore(c).SaveContent(c.Param("name"), req.Content); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

type toggleRequest struct {
	Enabled *bool `json:"enabled"`
}

func (h *Handler) toggleContextFile(c *gin.Context) {
	var req toggleRequest
	_ = c.ShouldBindJSON(&req) // empty body means flip

	enabled, err := h.contextStore(c).Toggle(c.Param("name"), req.Enabled)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": enabled})
}

func (h *Handler) deleteContextFile(c *gin.Context) {
	if err := h.contextStore(c).Delete(c.Param("name")); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- memory ---

func (h *Handler) showMemory(c *gin.Context) {
	content, err := h.app.Memory().Read()
	if err != nil {
		fail(c, err)
		return
	}
	resp := gin.H{"content": content}
	if at, ok := h.app.Memory().LastUpdated(); ok {
		resp["updated_at"] = at.UTC()
	}
	c.JSON(http.StatusOK, resp)
}

// updateMemory regenerates the profile from every session's transcript.
func (h *Handler) updateMemory(c *gin.Context) {
	accepted, err := h.app.UpdateMemory(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"accepted": accepted})
}

type modifyMemoryRequest struct {
	Command string `json:"command"`
}

func (h *Handler) modifyMemory(c *gin.Context) {
	var req modifyMemoryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	accepted, err := h.app.ModifyMemory(c.Request.Context(), req.Command)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"accepted": accepted})
}

func (h *Handler) wipeMemory(c *gin.Context) {
	if err := h.app.Memory().Wipe(); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// --- models and config ---

// modelView is one catalogue entry with prices rendered per million tokens
// for display.
type modelView struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	ContextLength int    `json:"context_length"`
	PromptPrice   string `json:"prompt_price"`
	CompletePrice string `json:"complete_price"`
}

func (h *Handler) listModels(c *gin.Context) {
	models, err := h.app.ListModels(c.Request.Context())
	if err != nil {
		fail(c, err)
		return
	}
	providers, groups := gateway.GroupByProvider(models)
	views := make(map[string][]modelView, len(groups))
	for provider, ms := range groups {
		for _, m := range ms {
			views[provider] = append(views[provider], modelView{
				ID:            m.ID,
				Name:          m.Name,
				ContextLength: m.ContextLength,
				PromptPrice:   gateway.FormatPricing(m.PromptPrice),
				CompletePrice: gateway.FormatPricing(m.CompletePrice),
			})
		}
	}
	c.JSON(http.StatusOK, gin.H{"providers": providers, "models": views})
}

// getConfig returns the settings with the API key redacted to its presence.
func (h *Handler) getConfig(c *gin.Context) {
	s := h.app.Settings()
	c.JSON(http.StatusOK, gin.H{
		"api_key_set":         s.APIKey != "",
		"model":               s.Model,
		"default_persona":     s.DefaultPersona,
		"max_history":         s.MaxHistory,
		"retry_attempts":      s.RetryAttempts,
		"retry_delay_seconds": s.RetryDelaySeconds,
		"user_timezone":       s.UserTimezone,
		"assistant_timezone":  s.AssistantTimezone,
		"site_url":            s.SiteURL,
		"site_name":           s.SiteName,
	})
}

type setConfigRequest struct {
	APIKey            *string `json:"api_key"`
	Model             *string `json:"model"`
	DefaultPersona    *string `json:"default_persona"`
	MaxHistory        *int    `json:"max_history"`
	RetryAttempts     *int    `json:"retry_attempts"`
	RetryDelaySeconds *int    `json:"retry_delay_seconds"`
	UserTimezone      *string `json:"user_timezone"`
	AssistantTimezone *string `json:"assistant_timezone"`
	SiteURL           *string `json:"site_url"`
	SiteName          *string `json:"site_name"`
}

// setConfig applies a partial settings update: only the fields present in
// the request change.
func (h *Handler) setConfig(c *gin.Context) {
	var req setConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	s := h.app.Settings()
	apply := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	apply(&s.APIKey, req.APIKey)
	apply(&s.Model, req.Model)
	apply(&s.DefaultPersona, req.DefaultPersona)
	apply(&s.UserTimezone, req.UserTimezone)
	apply(&s.AssistantTimezone, req.AssistantTimezone)
	apply(&s.SiteURL, req.SiteURL)
	apply(&s.SiteName, req.SiteName)
	if req.MaxHistory != nil {
		s.MaxHistory = *req.MaxHistory
	}
	if req.RetryAttempts != nil {
		s.RetryAttempts = *req.RetryAttempts
	}
	if req.RetryDelaySeconds != nil {
		s.RetryDelaySeconds = *req.RetryDelaySeconds
	}

	if s.DefaultPersona != "" && !h.app.Personas().Exists(s.DefaultPersona) {
		fail(c, &fault.NotFoundError{Resource: "persona", ID: s.DefaultPersona})
		return
	}
	if err := h.app.UpdateSettings(s); err != nil {
		fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}
