package domain

import "time"

// JobName identifies a scheduled job family.
type JobName string

const (
	JobInboxPoll  JobName = "inbox_poll"
	JobReminders  JobName = "reminders"
	JobAutoClose  JobName = "auto_close"
	JobEscalation JobName = "escalation"
	JobSLA        JobName = "sla_breach"
)

// AllJobs lists the automation jobs that can be triggered manually.
var AllJobs = []JobName{JobInboxPoll, JobReminders, JobAutoClose, JobEscalation, JobSLA}

func (j JobName) Valid() bool {
	for _, candidate := range AllJobs {
		if candidate == j {
			return true
		}
	}
	return false
}

// JobRun is the persisted record of the last run of a job for a shop.
type JobRun struct {
	Job        JobName
	ShopID     int64
	StartedAt  time.Time
	FinishedAt time.Time
	Processed  int
	Failed     int
	LastError  string
}

// SyncCursor is the last successfully ingested position of one mailbox folder.
type SyncCursor struct {
	ShopID    int64
	Account   string
	Folder    FolderKind
	Cursor    string
	UpdatedAt time.Time
}
