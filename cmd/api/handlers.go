package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"asistencia/internal/auth"
	"asistencia/internal/checkin"
	"asistencia/internal/config"
	"asistencia/internal/queue"
	"asistencia/internal/reconcile"
	"asistencia/internal/recordstore"
	"asistencia/internal/rut"
	"asistencia/internal/sanitize"
	"asistencia/internal/session"
)

type server struct {
	cfg      config.App
	log      *zap.Logger
	store    *recordstore.Client
	sessions *session.Manager
	engine   *reconcile.Engine
	flows    *checkin.Registry
	queue    queue.Queue
	rootCtx  context.Context
}

// fail maps domain errors onto HTTP responses. Nothing crashes the process;
// every error reaches the initiating flow as a user-facing message.
func (s *server) fail(c *gin.Context, err error) {
	var rl *recordstore.RateLimitedError
	switch {
	case errors.Is(err, recordstore.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.As(err, &rl):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "Too many requests", "retryAfter": rl.RetryAfter})
	case errors.Is(err, reconcile.ErrWindowExpired), errors.Is(err, checkin.ErrFlowExpired):
		c.JSON(http.StatusGone, gin.H{"error": err.Error()})
	case errors.Is(err, checkin.ErrInvalidRUT),
		errors.Is(err, checkin.ErrScreenCodeMismatch),
		errors.Is(err, checkin.ErrOtpMismatch),
		errors.Is(err, checkin.ErrWrongStep),
		errors.Is(err, checkin.ErrStudentNotFound),
		errors.Is(err, reconcile.ErrCommentRequired),
		errors.Is(err, reconcile.ErrInvalidState):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		s.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "operación fallida, reintente"})
	}
}

func (s *server) healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "store": s.cfg.StoreBaseURL})
}

// ── auth ──

func (s *server) login(c *gin.Context) {
	var req struct {
		RUT string `json:"rut" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.RUT = sanitize.RUT(req.RUT)
	if !rut.Validate(req.RUT) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "RUT inválido"})
		return
	}

	users, err := s.store.Users.List(c.Request.Context(), recordstore.Filter{"rut": req.RUT})
	if err != nil {
		s.fail(c, err)
		return
	}
	if len(users) == 0 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "usuario no registrado"})
		return
	}
	u := users[0]

	tokens, err := auth.Issue(u.ID, u.Rol, s.cfg.JWTIssuer, s.cfg.JWTSigningKey, s.cfg.AccessTTL, s.cfg.RefreshTTL)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "token issue failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token":  tokens.AccessToken,
		"refresh_token": tokens.RefreshToken,
		"expires_at":    tokens.AccessExp.Unix(),
		"nombre":        u.Nombre,
		"rol":           u.Rol,
	})
}

// ── monitor: session lifecycle ──

func (s *server) startSession(c *gin.Context) {
	workshopID := c.Param("id")
	if _, err := s.store.Workshops.Get(c.Request.Context(), workshopID); err != nil {
		s.fail(c, err)
		return
	}

	a, err := s.sessions.Start(c.Request.Context(), workshopID)
	if err != nil {
		s.fail(c, err)
		return
	}
	sess := a.Session()

	go a.Run(s.rootCtx, s.cfg.PollInterval, func(ctx context.Context) {
		if _, err := s.engine.Records(ctx, sess.ID); err != nil {
			s.log.Debug("attendance poll failed", zap.String("session_id", sess.ID), zap.Error(err))
		}
	})

	c.JSON(http.StatusCreated, gin.H{
		"sesion":    sess,
		"countdown": a.Remaining(),
		"estado":    a.State().String(),
		"check_url": "/check/" + sess.ID,
	})
}

func (s *server) listSessions(c *gin.Context) {
	list, err := s.sessions.ActiveSessions(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	out := make([]gin.H, 0, len(list))
	for _, sess := range list {
		out = append(out, gin.H{
			"sesion":           sess,
			"minutos_iniciada": int(time.Since(sess.Inicio).Minutes()),
		})
	}
	c.JSON(http.StatusOK, gin.H{"sesiones": out})
}

func (s *server) resumeSession(c *gin.Context) {
	id := c.Param("id")
	sess, err := s.sessions.Lookup(c.Request.Context(), id)
	if err != nil {
		s.fail(c, err)
		return
	}
	if time.Since(sess.Inicio) >= s.cfg.VisibilityWindow {
		// Past the visibility window a session is no longer resumable.
		c.JSON(http.StatusGone, gin.H{"error": "la sesión ya no es retomable"})
		return
	}

	a := s.sessions.Resume(sess)
	if a.Accepting() {
		go a.Run(s.rootCtx, s.cfg.PollInterval, func(ctx context.Context) {
			if _, err := s.engine.Records(ctx, sess.ID); err != nil {
				s.log.Debug("attendance poll failed", zap.String("session_id", sess.ID), zap.Error(err))
			}
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"sesion":    sess,
		"countdown": a.Remaining(),
		"estado":    a.State().String(),
	})
}

func (s *server) sessionState(c *gin.Context) {
	id := c.Param("id")
	if a, ok := s.sessions.Tracked(id); ok {
		c.JSON(http.StatusOK, gin.H{"countdown": a.Remaining(), "estado": a.State().String()})
		return
	}
	if _, err := s.sessions.Lookup(c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"countdown": 0, "estado": session.StateNone.String()})
}

func (s *server) closeSession(c *gin.Context) {
	id := c.Param("id")
	if err := s.sessions.Close(c.Request.Context(), id); err != nil {
		s.fail(c, err)
		return
	}
	s.publish(queue.Event{Type: "session_closed", SessionID: id, Actor: s.actor(c), At: time.Now().UTC()})
	c.JSON(http.StatusOK, gin.H{"cerrada": id})
}

// ── monitor: attendance ──

func (s *server) attendanceView(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("id")

	sess, err := s.sessions.Lookup(ctx, id)
	if err != nil {
		s.fail(c, err)
		return
	}
	taller, err := s.store.Workshops.Get(ctx, sess.TallerID)
	if err != nil {
		s.fail(c, err)
		return
	}
	roster, err := s.store.Students.List(ctx, recordstore.Filter{"curso_id": taller.CursoID})
	if err != nil {
		s.fail(c, err)
		return
	}
	records, err := s.engine.Records(ctx, id)
	if err != nil {
		s.fail(c, err)
		return
	}

	rows := make([]gin.H, 0, len(roster))
	for _, st := range roster {
		row := gin.H{
			"alumno_id": st.ID,
			"nombre":    st.Nombre,
			"rut":       st.RUT,
			"estado":    reconcile.StatusOf(records, st.ID),
		}
		for _, r := range records {
			if r.AlumnoID == st.ID {
				row["manual"] = r.Manual
				if r.Comentario != "" {
					row["comentario"] = r.Comentario
				}
				break
			}
		}
		rows = append(rows, row)
	}

	resp := gin.H{
		"alumnos":     rows,
		"estadística": reconcile.Summarize(records, len(roster)),
	}
	if a, ok := s.sessions.Tracked(id); ok {
		resp["countdown"] = a.Remaining()
		resp["estado_sesion"] = a.State().String()
	}
	c.JSON(http.StatusOK, resp)
}

const manualDisclaimer = "Al marcar manualmente la asistencia, usted declara que el alumno se encuentra físicamente presente, que verificó su identidad y que esta acción queda registrada en el sistema."

func (s *server) manualOverride(c *gin.Context) {
	ctx := c.Request.Context()
	sessionID := c.Param("id")
	alumnoID := c.Param("alumnoID")

	var req struct {
		Estado     string `json:"estado" binding:"required"`
		Comentario string `json:"comentario"`
		Confirmado bool   `json:"confirmado"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.Comentario = sanitize.Scrub(req.Comentario)

	if _, err := s.sessions.Lookup(ctx, sessionID); err != nil {
		s.fail(c, err)
		return
	}

	// Marking an implicitly-absent student present requires an explicit
	// confirmation, separate from the comment the engine always demands.
	if req.Estado == recordstore.EstadoPresente && !req.Confirmado {
		records, err := s.engine.Records(ctx, sessionID)
		if err != nil {
			s.fail(c, err)
			return
		}
		if reconcile.StatusOf(records, alumnoID) == recordstore.EstadoAusente {
			c.JSON(http.StatusConflict, gin.H{
				"error":      "confirmación requerida",
				"disclaimer": manualDisclaimer,
			})
			return
		}
	}

	rec, err := s.engine.CommitManual(ctx, sessionID, alumnoID, req.Estado, req.Comentario, s.actor(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	s.publish(queue.Event{
		Type:      "override",
		SessionID: sessionID,
		StudentID: alumnoID,
		Estado:    rec.Estado,
		Actor:     s.actor(c),
		At:        time.Now().UTC(),
	})
	c.JSON(http.StatusOK, rec)
}

// ── public check-in ──

func (s *server) resolveCheckin(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("sesionID")

	sess, err := s.sessions.Lookup(ctx, id)
	if err != nil {
		if errors.Is(err, recordstore.ErrNotFound) {
			// Degrade gracefully with debug info instead of a bare 404.
			c.JSON(http.StatusNotFound, gin.H{
				"error":     "sesión no encontrada",
				"sesion_id": id,
				"store_url": s.cfg.StoreBaseURL,
			})
			return
		}
		s.fail(c, err)
		return
	}

	resp := gin.H{"sesion": sess}
	if taller, err := s.store.Workshops.Get(ctx, sess.TallerID); err == nil {
		info := gin.H{"nombre": taller.Nombre, "disciplina": taller.Disciplina}
		if ent, err := s.store.Entities.Get(ctx, taller.EntidadID); err == nil {
			info["entidad"] = ent.Nombre
		}
		resp["taller"] = info
	}
	c.JSON(http.StatusOK, resp)
}

func (s *server) submitIdentity(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("sesionID")

	var req struct {
		RUT    string `json:"rut" binding:"required"`
		Codigo string `json:"codigo" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.RUT = sanitize.RUT(req.RUT)

	sess, err := s.sessions.Lookup(ctx, id)
	if err != nil {
		s.fail(c, err)
		return
	}

	flow := checkin.NewFlow(sess, s.store.Sessions, s.store.Students, s.engine, s.log)
	if err := flow.SubmitIdentity(ctx, req.RUT, req.Codigo); err != nil {
		s.fail(c, err)
		return
	}

	token := s.flows.Put(flow)
	student, _ := flow.Student()
	c.JSON(http.StatusOK, gin.H{
		"flow_token": token,
		"alumno":     student.Nombre,
		// Mockup-grade display channel: shown to the verifier only.
		"otp_display": flow.DisplayOTP(),
	})
}

func (s *server) submitOTP(c *gin.Context) {
	token := c.Param("token")
	var req struct {
		OTP string `json:"otp" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	flow, err := s.flows.Get(token)
	if err != nil {
		s.fail(c, err)
		return
	}

	rec, err := flow.SubmitOTP(c.Request.Context(), req.OTP)
	if err != nil {
		if flow.Step() == checkin.StepDone {
			s.flows.Drop(token)
		}
		s.fail(c, err)
		return
	}
	s.flows.Drop(token)

	s.publish(queue.Event{
		Type:      "checkin",
		SessionID: rec.SesionID,
		StudentID: rec.AlumnoID,
		Estado:    rec.Estado,
		At:        time.Now().UTC(),
	})
	c.JSON(http.StatusOK, gin.H{"estado": rec.Estado, "mensaje": "¡Check-in exitoso!"})
}

func (s *server) generateOTP(c *gin.Context) {
	var req struct {
		RUT string `json:"rut"`
	}
	_ = c.ShouldBindJSON(&req)
	otp := checkin.GenerateOTP()
	if s.cfg.Env != "production" && s.cfg.Env != "prod" {
		s.log.Info("OTP generated", zap.String("rut", sanitize.RUT(req.RUT)), zap.String("otp", otp))
	}
	c.JSON(http.StatusOK, gin.H{"otp": otp, "success": true})
}

// ── helpers ──

func (s *server) actor(c *gin.Context) string {
	if claimsAny, ok := c.Get("claims"); ok {
		if claims, ok := claimsAny.(auth.Claims); ok {
			return claims.Subject
		}
	}
	return "Monitor"
}

// publish sends an audit event best-effort; failures are logged, never
// surfaced.
func (s *server) publish(evt queue.Event) {
	ctx, cancel := context.WithTimeout(s.rootCtx, 2*time.Second)
	defer cancel()
	if err := s.queue.Publish(ctx, evt); err != nil {
		s.log.Warn("audit publish failed", zap.String("type", evt.Type), zap.Error(err))
	}
}

func filterFromQuery(c *gin.Context) recordstore.Filter {
	f := recordstore.Filter{}
	for k, vs := range c.Request.URL.Query() {
		if len(vs) > 0 {
			f[k] = vs[0]
		}
	}
	if len(f) == 0 {
		return nil
	}
	return f
}
