package model

// EntityType tags the clinical domain entity a sync change refers to.
// The sync engine treats the payload behind a tag as opaque; the tag
// only selects an entity store and a critical-fields policy.
type EntityType string

const (
	EntityPatient       EntityType = "patient"
	EntityAppointment   EntityType = "appointment"
	EntityFollowUp      EntityType = "follow_up"
	EntityMedicalRecord EntityType = "medical_record"
	EntityCHWVisit      EntityType = "chw_visit"
	EntityCaregiver     EntityType = "caregiver"
)

// Operation is the kind of change a device submits.
type Operation string

const (
	OpCreate Operation = "CREATE"
	OpUpdate Operation = "UPDATE"
	OpDelete Operation = "DELETE"
)

// Valid reports whether op is one of the three supported operations.
func (op Operation) Valid() bool {
	switch op {
	case OpCreate, OpUpdate, OpDelete:
		return true
	}
	return false
}

// Payload is an opaque structured record as submitted by a device or
// held in the offline cache. The engine only ever reads the client
// "version" field out of it.
type Payload map[string]any

// Version extracts the client-side version counter embedded in the
// payload, or 0 if absent. JSON numbers decode as float64.
func (p Payload) Version() int {
	switch v := p["version"].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}
