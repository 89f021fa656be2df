// Package schema defines the ObraControl data model.
//
// # Overview
//
// A Snapshot is the whole dataset stored under one project key: a map from
// project id to Project. Each Project owns its daily logs, material orders,
// stages, task board, labor contractors and fee accounts. The JSON field
// names match the documents written by earlier versions of the dashboard, so
// exported files and remote documents stay interchangeable.
//
// Example document:
//
//	{
//	  "1": {
//	    "name": "Edificio Altos de Alberdi",
//	    "status": "active",
//	    "budget": 15000000,
//	    "progress": 75,
//	    "logs": [],
//	    "materials": [],
//	    "stages": [{"id": 1, "name": "Cimientos / Fundaciones", ...}],
//	    "tasks": [],
//	    "labor": [{"id": 1, "name": "Hormigones SRL", ...}],
//	    "fees": []
//	  }
//	}
//
// # Sections
//
// Mutation always replaces a whole section of a project. The helpers in this
// package (PrependLog, AdvanceMaterial, ApprovePayment, ToggleTask, ...) are
// pure: they take a section and return a new slice, leaving the input alone.
//
// # Enumerations
//
// ProjectStatus, MaterialStatus, MaterialCategory and TaskType are closed sets.
// Unknown values read from older documents are preserved verbatim; only
// their labels degrade.
//
// # Design Principles
//
//   - Ids are millisecond timestamps, unique within a collection
//   - Collections are never omitted from JSON, so nil and empty survive a round trip
//   - Material status only moves forward: pendiente, pedido, recibido
//   - Approving a payment never lowers paidAmount
package schema
