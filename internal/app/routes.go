package app

import (
	"errors"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gin-gonic/gin"
	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/andresaa/api-examen-conduccion/internal/docstore"
	"github.com/andresaa/api-examen-conduccion/internal/model"
	"github.com/andresaa/api-examen-conduccion/internal/submission"
)

const basePath = "/consultant-service/v1"

var deviceKeyPattern = regexp.MustCompile(`^[A-Fa-f0-9]{12}$`)

func (a *App) routes() http.Handler {
	r := gin.New()
	r.Use(gin.Recovery(), a.requestID(), a.logRequests())

	r.GET("/healthz", a.handleHealthz)
	r.GET("/readyz", a.handleReadyz)

	v1 := r.Group(basePath)
	v1.GET("/health", a.handleHealth)
	v1.POST("/auth/login", a.handleLogin)

	secured := v1.Group("")
	if a.cfg.RequireBearer {
		secured.Use(a.requireBearer())
	}
	secured.GET("/appointment/:key", a.handleAppointment)
	secured.POST("/appointment/test-result", a.handleSubmitResult)
	secured.GET("/test-results", a.handleListResults)
	secured.GET("/test-result/:id", a.handleGetResult)
	secured.GET("/cales", a.handleCollection(docstore.Cales, "Centros de examen"))
	secured.GET("/sync-status", a.handleCollection(docstore.SyncStatus, "Estado de sincronización"))

	r.NoRoute(func(c *gin.Context) {
		a.fail(c, http.StatusNotFound, codeNotFound, "Recurso no encontrado", map[string]any{"path": c.Request.URL.Path})
	})
	return r
}

func (a *App) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (a *App) handleReadyz(c *gin.Context) {
	if a.store == nil || a.recorder == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "starting"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

func (a *App) handleHealth(c *gin.Context) {
	total := 0
	if a.store != nil {
		n, err := a.store.Count(c.Request.Context(), docstore.TestResults)
		if err != nil {
			a.internalError(c, "count test results", err)
			return
		}
		total = n
	}
	body := gin.H{
		"status":       "ok",
		"service":      a.cfg.ServiceName,
		"uptime":       strings.TrimSpace(humanize.RelTime(a.started, time.Now(), "", "")),
		"test_results": total,
	}
	a.respond(c, http.StatusOK, "Servicio operativo", body)
}

// mockToken signs a token with fixed claims; it is never validated.
func mockToken(secret string) (string, error) {
	claims := jwt.RegisteredClaims{
		Issuer:   "consultant-service",
		Subject:  "consultant-mock",
		Audience: jwt.ClaimStrings{"consultant-clients"},
		IssuedAt: jwt.NewNumericDate(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func (a *App) handleLogin(c *gin.Context) {
	a.respond(c, http.StatusOK, "Autenticación exitosa", gin.H{
		"accessToken": a.token,
		"tokenType":   "Bearer",
		"expiresIn":   3600,
	})
}

func (a *App) handleAppointment(c *gin.Context) {
	key := c.Param("key")
	if a.model == submission.ModelCenter {
		a.appointmentsByCenter(c, key)
		return
	}

	if !deviceKeyPattern.MatchString(key) {
		a.fail(c, http.StatusBadRequest, codeInvalidFormat,
			"El formato de resource_mac es inválido. Se esperan 12 caracteres hexadecimales.",
			map[string]any{
				"field":           "resource_mac",
				"provided_value":  key,
				"expected_format": deviceKeyPattern.String(),
				"examples":        []string{"A1B2C3D4E5F6", "001122334455"},
			})
		return
	}

	doc, ok, err := a.store.FindOne(c.Request.Context(), docstore.Appointments, docstore.Where("resource_mac", key))
	if err != nil {
		a.internalError(c, "find appointment", err)
		return
	}
	if !ok {
		a.fail(c, http.StatusNotFound, string(submission.CodeAppointmentNotFound),
			"No se encontró ninguna cita para el resource_mac: "+key,
			map[string]any{"resource_mac": key, "suggestion": "Verifique que el resource_mac sea correcto"})
		return
	}

	var appt model.DeviceAppointment
	if err := doc.Decode(&appt); err != nil {
		a.internalError(c, "decode appointment", err)
		return
	}
	if appt.Users == nil {
		appt.Users = []model.AssignedUser{}
	}

	if a.variant == submission.VariantB {
		a.respond(c, http.StatusOK, "Cita encontrada", gin.H{
			"resourceMac":     appt.ResourceMAC,
			"appointmentDate": appt.AppointmentDate,
			"totalUsers":      len(appt.Users),
			"users":           appt.Users,
		})
		return
	}
	a.respond(c, http.StatusOK, "", gin.H{
		"resource_mac":     appt.ResourceMAC,
		"appointment_date": appt.AppointmentDate,
		"total_users":      len(appt.Users),
		"users":            appt.Users,
	})
}

func (a *App) appointmentsByCenter(c *gin.Context, caleID string) {
	docs, err := a.store.FindMany(c.Request.Context(), docstore.Appointments, docstore.Where("caleId", caleID))
	if err != nil {
		a.internalError(c, "find center appointments", err)
		return
	}
	if len(docs) == 0 {
		a.fail(c, http.StatusNotFound, string(submission.CodeAppointmentNotFound),
			"No se encontraron citas para el CALE: "+caleID,
			map[string]any{"caleId": caleID})
		return
	}

	appts := make([]model.CenterAppointment, 0, len(docs))
	for _, doc := range docs {
		var appt model.CenterAppointment
		if err := doc.Decode(&appt); err != nil {
			a.internalError(c, "decode appointment", err)
			return
		}
		appts = append(appts, appt)
	}
	a.respond(c, http.StatusOK, "Citas encontradas", gin.H{
		"caleId":            caleID,
		"totalAppointments": len(appts),
		"appointments":      appts,
	})
}

// recordedResult is the snake_case success body of a submission.
type recordedResult struct {
	TestResultID  string         `json:"test_result_id"`
	UserID        string         `json:"user_id"`
	AppointmentID string         `json:"appointment_id"`
	TestType      model.TestType `json:"test_type"`
	Result        map[string]any `json:"result"`
	Status        string         `json:"status"`
	Notes         *string        `json:"notes"`
	PerformedAt   string         `json:"performed_at"`
	StartPcMac    *string        `json:"start_pc_mac,omitempty"`
	EndPcMac      *string        `json:"end_pc_mac,omitempty"`
	CreatedAt     string         `json:"created_at"`
	UpdatedAt     string         `json:"updated_at"`
	Message       string         `json:"message"`
}

const submittedMessage = "Resultado de examen enviado exitosamente"

func (a *App) handleSubmitResult(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		a.internalError(c, "read request body", err)
		return
	}
	sub, err := submission.Decode(a.variant, body)
	if err != nil {
		a.fail(c, http.StatusBadRequest, codeInvalidJSON, "El cuerpo de la solicitud debe ser un objeto JSON válido", map[string]any{
			"error": err.Error(),
		})
		return
	}

	rec, err := a.recorder.Submit(c.Request.Context(), sub)
	var rej *submission.Rejection
	switch {
	case errors.As(err, &rej):
		a.reject(c, rej)
		return
	case err != nil:
		a.internalError(c, "submit test result", err)
		return
	}

	if a.variant == submission.VariantB {
		a.respond(c, http.StatusOK, submittedMessage, rec.Camel())
		return
	}
	a.respond(c, http.StatusOK, submittedMessage, recordedResult{
		TestResultID:  rec.TestResultID,
		UserID:        rec.UserID,
		AppointmentID: rec.AppointmentID,
		TestType:      rec.TestType,
		Result:        rec.Result,
		Status:        rec.Status,
		Notes:         rec.Notes,
		PerformedAt:   rec.PerformedAt,
		StartPcMac:    rec.StartPcMac,
		EndPcMac:      rec.EndPcMac,
		CreatedAt:     rec.CreatedAt,
		UpdatedAt:     rec.UpdatedAt,
		Message:       submittedMessage,
	})
}

func (a *App) handleListResults(c *gin.Context) {
	var filters []docstore.Predicate
	for _, field := range []string{"user_id", "appointment_id", "test_type", "status"} {
		if v := c.Query(field); v != "" {
			filters = append(filters, docstore.Where(field, v))
		}
	}

	docs, err := a.store.FindMany(c.Request.Context(), docstore.TestResults, docstore.All(filters...))
	if err != nil {
		a.internalError(c, "list test results", err)
		return
	}
	results, err := decodeResults(docs)
	if err != nil {
		a.internalError(c, "decode test results", err)
		return
	}

	if a.variant == submission.VariantB {
		camel := make([]model.CamelTestResult, 0, len(results))
		for _, r := range results {
			camel = append(camel, r.Camel())
		}
		a.respond(c, http.StatusOK, "Resultados de examen", gin.H{"total": len(camel), "results": camel})
		return
	}
	a.respond(c, http.StatusOK, "", gin.H{"total": len(results), "data": results})
}

func (a *App) handleGetResult(c *gin.Context) {
	id := c.Param("id")
	doc, ok, err := a.store.FindOne(c.Request.Context(), docstore.TestResults, docstore.Where("test_result_id", id))
	if err != nil {
		a.internalError(c, "find test result", err)
		return
	}
	if !ok {
		a.fail(c, http.StatusNotFound, codeTestResultNotFound, "No se encontró el resultado del examen", nil)
		return
	}

	var rec model.TestResult
	if err := doc.Decode(&rec); err != nil {
		a.internalError(c, "decode test result", err)
		return
	}
	if a.variant == submission.VariantB {
		a.respond(c, http.StatusOK, "Resultado de examen", rec.Camel())
		return
	}
	a.respond(c, http.StatusOK, "", rec)
}

// handleCollection serves a collection verbatim, in store order.
func (a *App) handleCollection(collection, message string) gin.HandlerFunc {
	return func(c *gin.Context) {
		docs, err := a.store.FindMany(c.Request.Context(), collection, nil)
		if err != nil {
			a.internalError(c, "list "+collection, err)
			return
		}
		if docs == nil {
			docs = []docstore.Document{}
		}
		a.respond(c, http.StatusOK, message, docs)
	}
}

func decodeResults(docs []docstore.Document) ([]model.TestResult, error) {
	out := make([]model.TestResult, 0, len(docs))
	for _, doc := range docs {
		var r model.TestResult
		if err := doc.Decode(&r); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}
