package worker

import (
	"github.com/spec-kit/support-inbox/internal/service"
)

// StartNotificationWorker registers staff notification handlers on the dispatcher.
func StartNotificationWorker(notificationService *service.NotificationService) {
	if notificationService == nil {
		return
	}
	notificationService.RegisterHandlers()
}
