package entity

// CancellationID is the settings row holding the account cancellation options.
const CancellationID = "cancellation"

// Setting is one persisted JSON document keyed by id.
type Setting struct {
	ID        string `db:"id" json:"id"`
	Category  string `db:"category" json:"category"`
	Value     string `db:"value" json:"value"`
	Version   int64  `db:"version" json:"version"`
	UpdatedAt int64  `db:"updated_at" json:"updated_at"`
}

// CancellationSettings are the admin-editable cancellation options.
type CancellationSettings struct {
	DeletionPeriodHours int      `json:"deletion_period_hours"`
	EmailNotifications  bool     `json:"email_notifications"`
	DeleteContent       bool     `json:"delete_content"`
	ContentTypes        []string `json:"content_types"`
	Version             int64    `json:"version"`
}
