// Package authority is a reference backend for pairing. It issues pairing
// keys sealed to a Tag's ephemeral public key, records them per vehicle in
// SQLite, and serves them to Anchor provisioning.
//
// Routes:
//
//	POST   /pairing                        (alias /owner-pairing)
//	GET    /pairing-status/{vehicle_id}    (alias /check-pairing/{vehicle_id})
//	POST   /generate-key                   (alias /api/generate-key)
//	GET    /vehicles
//	GET    /vehicle/{vehicle_id}
//	DELETE /vehicle/{vehicle_id}
//	GET    /vehicle/{vehicle_id}/pairing-key
//	GET    /health
//
// Request bodies are validated against embedded JSON schemas before they
// are decoded.
package authority
