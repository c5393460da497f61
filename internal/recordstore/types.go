package recordstore

import "time"

// Attendance states as stored in the record store. "Ausente" is the implicit
// default and is only ever written by a manual override.
const (
	EstadoPresente = "Presente"
	EstadoAtraso   = "Con Atraso"
	EstadoAusente  = "Ausente"
)

// VisitTypes enumerates the four supervisory visit categories.
var VisitTypes = []string{
	"Supervisión Rutinaria",
	"Auditoría de Calidad",
	"Seguimiento de Incidencias",
	"Evaluación de Resultados",
}

// Entity is a program-operating organization managed by the central admin.
type Entity struct {
	ID              string `json:"id,omitempty"`
	Nombre          string `json:"nombre"`
	RUT             string `json:"rut"`
	CursosAsignados []int  `json:"cursos_asignados_rbd"`
}

// Monitor is a staff member running workshops and check-in sessions.
type Monitor struct {
	ID        string `json:"id,omitempty"`
	Nombre    string `json:"nombre"`
	RUT       string `json:"rut"`
	EntidadID string `json:"entidad_id"`
}

// Course groups students under an RBD code.
type Course struct {
	ID     string `json:"id,omitempty"`
	Nombre string `json:"nombre"`
	RBD    int    `json:"rbd"`
}

// Student has an independent lifecycle; CRUD by the central admin.
type Student struct {
	ID      string `json:"id,omitempty"`
	Nombre  string `json:"nombre"`
	RUT     string `json:"rut"`
	Email   string `json:"email"`
	CursoID string `json:"curso_id"`
}

// ScheduleSlot is one weekday/time entry of a workshop calendar.
type ScheduleSlot struct {
	Dia    string `json:"dia"`
	Inicio string `json:"inicio"`
	Fin    string `json:"fin"`
}

// Workshop (taller) is taught by exactly one monitor to one course.
type Workshop struct {
	ID         string         `json:"id,omitempty"`
	Nombre     string         `json:"nombre"`
	Disciplina string         `json:"disciplina"`
	EntidadID  string         `json:"entidad_id"`
	MonitorID  string         `json:"monitor_id"`
	CursoID    string         `json:"curso_id"`
	Horarios   []ScheduleSlot `json:"horarios,omitempty"`
}

// CheckinSession is the persisted half of a check-in session. Lifecycle state
// lives in the session manager; deletion is immediate and irreversible.
type CheckinSession struct {
	ID             string    `json:"id,omitempty"`
	TallerID       string    `json:"taller_id"`
	CodigoPantalla string    `json:"codigo_pantalla"`
	Inicio         time.Time `json:"timestamp_inicio"`
}

// Attendance is the per-(session, student) record. At most one exists per
// pair; only non-default states are persisted.
type Attendance struct {
	ID            string     `json:"id,omitempty"`
	SesionID      string     `json:"sesion_id"`
	AlumnoID      string     `json:"alumno_id"`
	Estado        string     `json:"estado"`
	Manual        bool       `json:"manual,omitempty"`
	Comentario    string     `json:"comentario,omitempty"`
	ModificadoPor string     `json:"modificado_por,omitempty"`
	Modificado    *time.Time `json:"timestamp_modificacion,omitempty"`
	Timestamp     time.Time  `json:"timestamp"`
}

// GestorVisit is an append-only supervisory visit record.
type GestorVisit struct {
	ID            string    `json:"id,omitempty"`
	TallerID      string    `json:"taller_id"`
	TallerNombre  string    `json:"taller_nombre"`
	Gestor        string    `json:"gestor"`
	Tipo          string    `json:"tipo"`
	Fecha         string    `json:"fecha"`
	Observaciones string    `json:"observaciones"`
	Timestamp     time.Time `json:"timestamp"`
}

// User is a platform account used for login.
type User struct {
	ID     string `json:"id,omitempty"`
	Nombre string `json:"nombre"`
	RUT    string `json:"rut"`
	Rol    string `json:"rol"`
}
