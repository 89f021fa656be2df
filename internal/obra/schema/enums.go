package schema

// ProjectStatus is the lifecycle state of a project.
type ProjectStatus string

const (
	StatusActive ProjectStatus = "active"
	StatusPaused ProjectStatus = "paused"
)

// Valid reports whether s is a known project status.
func (s ProjectStatus) Valid() bool {
	switch s {
	case StatusActive, StatusPaused:
		return true
	default:
		return false
	}
}

// Label returns the Spanish display label.
func (s ProjectStatus) Label() string {
	switch s {
	case StatusActive:
		return "En curso"
	case StatusPaused:
		return "Pausada"
	default:
		return string(s)
	}
}

// MaterialStatus tracks a material order. It only moves forward.
type MaterialStatus string

const (
	MaterialPending  MaterialStatus = "pendiente"
	MaterialOrdered  MaterialStatus = "pedido"
	MaterialReceived MaterialStatus = "recibido"
)

// Valid reports whether s is a known material status.
func (s MaterialStatus) Valid() bool {
	switch s {
	case MaterialPending, MaterialOrdered, MaterialReceived:
		return true
	default:
		return false
	}
}

// rank orders statuses; unknown values rank below pendiente.
func (s MaterialStatus) rank() int {
	switch s {
	case MaterialPending:
		return 0
	case MaterialOrdered:
		return 1
	case MaterialReceived:
		return 2
	default:
		return -1
	}
}

// Next returns the following status. recibido is terminal and returns itself.
func (s MaterialStatus) Next() MaterialStatus {
	switch s {
	case MaterialOrdered:
		return MaterialReceived
	case MaterialReceived:
		return MaterialReceived
	default:
		return MaterialOrdered
	}
}

// CanTransitionTo reports whether moving from s to t keeps the order monotonic.
func (s MaterialStatus) CanTransitionTo(t MaterialStatus) bool {
	if !t.Valid() {
		return false
	}
	return t.rank() >= s.rank()
}

// Label returns the Spanish display label.
func (s MaterialStatus) Label() string {
	switch s {
	case MaterialPending:
		return "Pendiente"
	case MaterialOrdered:
		return "Pedido"
	case MaterialReceived:
		return "Recibido"
	default:
		return string(s)
	}
}

// MaterialCategory groups material orders.
type MaterialCategory string

const (
	CategoryMasonry     MaterialCategory = "Albañilería"
	CategoryPlumbing    MaterialCategory = "Plomería"
	CategoryElectrical  MaterialCategory = "Electricidad"
	CategoryStructure   MaterialCategory = "Estructura"
	CategoryPaint       MaterialCategory = "Pintura"
	CategoryFinishes    MaterialCategory = "Terminaciones"
	CategoryMiscellanea MaterialCategory = "Varios"
)

// MaterialCategories lists every category in display order.
var MaterialCategories = []MaterialCategory{
	CategoryMasonry,
	CategoryPlumbing,
	CategoryElectrical,
	CategoryStructure,
	CategoryPaint,
	CategoryFinishes,
	CategoryMiscellanea,
}

// Valid reports whether c is one of MaterialCategories.
func (c MaterialCategory) Valid() bool {
	for _, known := range MaterialCategories {
		if c == known {
			return true
		}
	}
	return false
}

// TaskType classifies task board entries.
type TaskType string

const (
	TaskLabor    TaskType = "labor"
	TaskMaterial TaskType = "material"
	TaskManage   TaskType = "manage"
	TaskGeneral  TaskType = "general"
)

// Valid reports whether t is a known task type.
func (t TaskType) Valid() bool {
	switch t {
	case TaskLabor, TaskMaterial, TaskManage, TaskGeneral:
		return true
	default:
		return false
	}
}

// Label returns the Spanish display label.
func (t TaskType) Label() string {
	switch t {
	case TaskLabor:
		return "Mano de obra"
	case TaskMaterial:
		return "Materiales"
	case TaskManage:
		return "Gestión"
	case TaskGeneral:
		return "General"
	default:
		return string(t)
	}
}

// Weather values offered when recording a log. Any string is accepted.
const (
	WeatherSunny  = "Soleado"
	WeatherCloudy = "Nublado"
	WeatherRain   = "Lluvia"
	WeatherWind   = "Viento Fuerte"
)

// Sentinel values used by tasks and materials.
const (
	NoDeadline        = "Sin fecha"
	SuggestedDeadline = "Sugerido por IA"
	Unassigned        = "Sin asignar"
	ToBeDefined       = "Por definir"
	NoDate            = "-"
)
