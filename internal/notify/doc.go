// Package notify delivers session and presence notifications to subscribers.
//
// Notifications are addressed by topic, "company-{id}-whatsappSession" for
// account state changes and "company-{id}-presence" for peer presence, and
// optionally by extra rooms (a ticket id, "company-{id}-{status}",
// "queue-{id}-{status}").
//
// Broadcaster is the in-process fan-out: subscribers register per company and
// receive every notification of that company. Delivery is non-blocking; a
// slow subscriber loses events rather than stalling the lifecycle manager.
//
// MatrixRelay mirrors account state changes into a Matrix room as notices.
// Multi combines notifiers.
package notify
