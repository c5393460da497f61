package main

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"asistencia/internal/recordstore"
	"asistencia/internal/rut"
	"asistencia/internal/sanitize"
)

// Administrative CRUD over the record store. Every payload carrying a
// legal-id passes the RUT gate before it is persisted.

func (s *server) badRUT(c *gin.Context) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "RUT inválido"})
}

// ── entidades ──

func (s *server) listEntities(c *gin.Context) {
	out, err := s.store.Entities.List(c.Request.Context(), filterFromQuery(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *server) createEntity(c *gin.Context) {
	var e recordstore.Entity
	if err := c.ShouldBindJSON(&e); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	e.Nombre = sanitize.Scrub(e.Nombre)
	e.RUT = sanitize.RUT(e.RUT)
	if !rut.Validate(e.RUT) {
		s.badRUT(c)
		return
	}
	if e.CursosAsignados == nil {
		e.CursosAsignados = []int{}
	}
	created, err := s.store.Entities.Create(c.Request.Context(), e)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *server) updateEntity(c *gin.Context) {
	patch, ok := s.bindPatch(c)
	if !ok {
		return
	}
	updated, err := s.store.Entities.Update(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (s *server) deleteEntity(c *gin.Context) {
	if err := s.store.Entities.Delete(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ── monitores ──

func (s *server) listMonitors(c *gin.Context) {
	out, err := s.store.Monitors.List(c.Request.Context(), filterFromQuery(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *server) createMonitor(c *gin.Context) {
	var m recordstore.Monitor
	if err := c.ShouldBindJSON(&m); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	m.Nombre = sanitize.Scrub(m.Nombre)
	m.RUT = sanitize.RUT(m.RUT)
	if !rut.Validate(m.RUT) {
		s.badRUT(c)
		return
	}
	created, err := s.store.Monitors.Create(c.Request.Context(), m)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *server) updateMonitor(c *gin.Context) {
	patch, ok := s.bindPatch(c)
	if !ok {
		return
	}
	updated, err := s.store.Monitors.Update(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (s *server) deleteMonitor(c *gin.Context) {
	if err := s.store.Monitors.Delete(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ── cursos ──

func (s *server) listCourses(c *gin.Context) {
	out, err := s.store.Courses.List(c.Request.Context(), filterFromQuery(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

// ── alumnos ──

func (s *server) listStudents(c *gin.Context) {
	out, err := s.store.Students.List(c.Request.Context(), filterFromQuery(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *server) createStudent(c *gin.Context) {
	var st recordstore.Student
	if err := c.ShouldBindJSON(&st); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	st.Nombre = sanitize.Scrub(st.Nombre)
	st.RUT = sanitize.RUT(st.RUT)
	st.Email = sanitize.Email(st.Email)
	if !rut.Validate(st.RUT) {
		s.badRUT(c)
		return
	}
	created, err := s.store.Students.Create(c.Request.Context(), st)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *server) updateStudent(c *gin.Context) {
	patch, ok := s.bindPatch(c)
	if !ok {
		return
	}
	updated, err := s.store.Students.Update(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (s *server) deleteStudent(c *gin.Context) {
	if err := s.store.Students.Delete(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ── talleres ──

func (s *server) listWorkshops(c *gin.Context) {
	out, err := s.store.Workshops.List(c.Request.Context(), filterFromQuery(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *server) createWorkshop(c *gin.Context) {
	var w recordstore.Workshop
	if err := c.ShouldBindJSON(&w); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	w.Nombre = sanitize.Scrub(w.Nombre)
	w.Disciplina = sanitize.Scrub(w.Disciplina)
	created, err := s.store.Workshops.Create(c.Request.Context(), w)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

func (s *server) updateWorkshop(c *gin.Context) {
	patch, ok := s.bindPatch(c)
	if !ok {
		return
	}
	updated, err := s.store.Workshops.Update(c.Request.Context(), c.Param("id"), patch)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, updated)
}

func (s *server) deleteWorkshop(c *gin.Context) {
	if err := s.store.Workshops.Delete(c.Request.Context(), c.Param("id")); err != nil {
		s.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ── visitas gestor (append-only) ──

func (s *server) listVisits(c *gin.Context) {
	out, err := s.store.Visits.List(c.Request.Context(), filterFromQuery(c))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *server) createVisit(c *gin.Context) {
	var v recordstore.GestorVisit
	if err := c.ShouldBindJSON(&v); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	valid := false
	for _, t := range recordstore.VisitTypes {
		if v.Tipo == t {
			valid = true
			break
		}
	}
	if !valid {
		c.JSON(http.StatusBadRequest, gin.H{"error": "tipo de visita inválido"})
		return
	}
	v.Observaciones = sanitize.Scrub(v.Observaciones)
	v.Gestor = sanitize.Scrub(v.Gestor)
	if v.TallerNombre == "" {
		if taller, err := s.store.Workshops.Get(c.Request.Context(), v.TallerID); err == nil {
			v.TallerNombre = taller.Nombre
		}
	}
	v.Timestamp = time.Now().UTC()

	created, err := s.store.Visits.Create(c.Request.Context(), v)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, created)
}

// bindPatch reads a partial-update body, scrubbing string fields and gating
// any rut change.
func (s *server) bindPatch(c *gin.Context) (map[string]any, bool) {
	var patch map[string]any
	if err := c.ShouldBindJSON(&patch); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return nil, false
	}
	for k, v := range patch {
		if str, ok := v.(string); ok {
			patch[k] = sanitize.Scrub(str)
		}
	}
	if raw, ok := patch["rut"].(string); ok {
		cleaned := sanitize.RUT(raw)
		if !rut.Validate(cleaned) {
			s.badRUT(c)
			return nil, false
		}
		patch["rut"] = cleaned
	}
	return patch, true
}
