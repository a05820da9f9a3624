// Package audit keeps a building-side log of gate admissions by consuming
// redemption events off the bus.
package audit

import (
	"encoding/json"

	"github.com/bouclier/residence-access/pkg/events"
	"github.com/bouclier/residence-access/pkg/logger"
)

// Queue name shared by API replicas so each admission is logged once.
const queue = "gate-audit"

// Register subscribes the admission log to redemption events.
func Register(bus events.Subscriber) error {
	return bus.QueueSubscribe(events.VisitorRedeemed, queue, LogRedemption)
}

// LogRedemption writes one admission record for a redemption event.
func LogRedemption(msg *events.Message) {
	var ev events.VisitorRedeemedEvent
	if err := json.Unmarshal(msg.Data, &ev); err != nil {
		logger.Warn("malformed redemption event", "error", err, "subject", msg.Subject)
		return
	}

	logger.Info("visitor admitted",
		"access_id", ev.AccessID,
		"group_id", ev.GroupID,
		"building_id", ev.BuildingID,
		"redeemed_by", ev.RedeemedBy,
		"redeemed_at", ev.RedeemedAt,
	)
}
