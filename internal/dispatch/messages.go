package dispatch

import (
	"fmt"
	"strconv"

	"github.com/RefatHex/ResQ/internal/models"
	"github.com/RefatHex/ResQ/internal/proximity"
)

const (
	broadcastTitle = "Emergency Nearby!"
	statusTitle    = "Emergency Status Update"
)

var statusMessages = map[models.ReportStatus]string{
	models.StatusResponding: "Emergency services have seen your alert and are responding",
	models.StatusOnScene:    "Emergency services have arrived on scene for your emergency",
	models.StatusResolved:   "Your emergency has been resolved",
}

// StatusMessage returns the text sent to a victim when their report enters
// status. ok is false for statuses that are not announced.
func StatusMessage(status models.ReportStatus) (msg string, ok bool) {
	msg, ok = statusMessages[status]
	return msg, ok
}

func broadcastNotification(report models.Report, m proximity.Match, eventKey string) *models.Notification {
	n := newDraft(m.ID, report.ID, eventKey)
	n.Category = models.CategoryEmergencyAlert
	n.Title = broadcastTitle
	n.Message = fmt.Sprintf("Emergency reported %.1fkm from your location: %s", m.DistanceKm, report.Description)
	n.PushBody = fmt.Sprintf("Emergency reported %.1fkm from your location", m.DistanceKm)
	n.Data = map[string]string{
		"notification_id": n.ID,
		"emergency_id":    report.ID,
		"latitude":        strconv.FormatFloat(report.Location.Latitude, 'f', 6, 64),
		"longitude":       strconv.FormatFloat(report.Location.Longitude, 'f', 6, 64),
		"distance":        fmt.Sprintf("%.1f", m.DistanceKm),
	}
	return n
}

func statusNotification(ev models.StatusChanged, eventKey string) (*models.Notification, bool) {
	msg, ok := StatusMessage(ev.NewStatus)
	if !ok {
		return nil, false
	}

	n := newDraft(ev.Report.ReporterID, ev.Report.ID, eventKey)
	n.Category = models.CategoryStatusUpdate
	n.Title = statusTitle
	n.Message = msg
	n.Data = map[string]string{
		"notification_id": n.ID,
		"emergency_id":    ev.Report.ID,
		"old_status":      string(ev.PreviousStatus),
		"new_status":      string(ev.NewStatus),
	}
	return n, true
}
