package mongodb

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"

	scheduler "github.com/DEEJ4Y/postscheduler"
)

// jobDocument mirrors the scheduledposts collection.
type jobDocument struct {
	ID             primitive.ObjectID     `bson:"_id,omitempty"`
	UserID         interface{}            `bson:"userId,omitempty"`
	XUserID        string                 `bson:"xUserId"`
	Text           string                 `bson:"text"`
	AIPrompt       string                 `bson:"aiPrompt"`
	GenerateWithAI bool                   `bson:"generateWithAI"`
	ScheduledAt    time.Time              `bson:"scheduledAt"`
	Timezone       string                 `bson:"timezone"`
	Repeat         string                 `bson:"repeat"`
	Status         string                 `bson:"status"`
	Attempts       int                    `bson:"attempts"`
	MaxAttempts    int                    `bson:"maxAttempts"`
	LastError      string                 `bson:"lastError,omitempty"`
	ClaimedBy      string                 `bson:"claimedBy,omitempty"`
	ClaimedAt      *time.Time             `bson:"claimedAt,omitempty"`
	PostedAt       *time.Time             `bson:"postedAt,omitempty"`
	Response       map[string]interface{} `bson:"response,omitempty"`
	Meta           *metaDocument          `bson:"meta,omitempty"`
	CreatedAt      time.Time              `bson:"createdAt"`
	UpdatedAt      time.Time              `bson:"updatedAt"`
}

type metaDocument struct {
	CreatedBy   string               `bson:"createdBy,omitempty"`
	Preferences *preferencesDocument `bson:"userPostingPreferencesSnapshot,omitempty"`
}

type windowDocument struct {
	Start string `bson:"start"`
	End   string `bson:"end"`
}

type preferencesDocument struct {
	Windows    []windowDocument `bson:"windows"`
	DailyLimit *int             `bson:"dailyLimit"`
	Tone       string           `bson:"tone,omitempty"`
	Topics     []string         `bson:"topics"`
	Timezone   string           `bson:"timezone,omitempty"`
}

type oauthDocument struct {
	AccessTokenEnc  string     `bson:"accessTokenEnc,omitempty"`
	RefreshTokenEnc string     `bson:"refreshTokenEnc,omitempty"`
	ExpiresAt       *time.Time `bson:"expiresAt,omitempty"`
}

type accountDocument struct {
	ID        primitive.ObjectID `bson:"_id,omitempty"`
	UserID    interface{}        `bson:"userId,omitempty"`
	XUserID   string             `bson:"xUserId"`
	Username  string             `bson:"username,omitempty"`
	OAuth     oauthDocument      `bson:"oauth"`
	UpdatedAt time.Time          `bson:"updatedAt"`
}

type userDocument struct {
	ID                 primitive.ObjectID   `bson:"_id,omitempty"`
	XUserID            string               `bson:"xUserId"`
	Username           string               `bson:"username"`
	PostingPreferences *preferencesDocument `bson:"postingPreferences,omitempty"`
}

func fromPreferences(p *scheduler.PostingPreferences) *preferencesDocument {
	if p == nil {
		return nil
	}
	doc := &preferencesDocument{
		Windows:    make([]windowDocument, 0, len(p.Windows)),
		DailyLimit: p.DailyLimit,
		Tone:       p.Tone,
		Topics:     p.Topics,
		Timezone:   p.Timezone,
	}
	for _, w := range p.Windows {
		doc.Windows = append(doc.Windows, windowDocument{Start: w.Start, End: w.End})
	}
	if doc.Topics == nil {
		doc.Topics = []string{}
	}
	return doc
}

func (d *preferencesDocument) toPreferences() *scheduler.PostingPreferences {
	if d == nil {
		return nil
	}
	p := &scheduler.PostingPreferences{
		DailyLimit: d.DailyLimit,
		Tone:       d.Tone,
		Topics:     d.Topics,
		Timezone:   d.Timezone,
	}
	for _, w := range d.Windows {
		p.Windows = append(p.Windows, scheduler.Window{Start: w.Start, End: w.End})
	}
	return p
}

func fromJob(j *scheduler.Job) *jobDocument {
	doc := &jobDocument{
		UserID:         objectRef(j.UserID),
		XUserID:        j.OwnerID,
		Text:           j.Text,
		AIPrompt:       j.AIPrompt,
		GenerateWithAI: j.GenerateWithAI,
		ScheduledAt:    j.ScheduledAt.UTC(),
		Timezone:       j.Timezone,
		Repeat:         string(j.Repeat),
		Status:         string(j.Status),
		Attempts:       j.Attempts,
		MaxAttempts:    j.MaxAttempts,
		LastError:      j.LastError,
		PostedAt:       j.PostedAt,
		Response:       j.Response,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
	}
	if doc.Repeat == "" {
		doc.Repeat = string(scheduler.RepeatNone)
	}
	if doc.Status == "" {
		doc.Status = string(scheduler.StatusPending)
	}
	if doc.Timezone == "" {
		doc.Timezone = "UTC"
	}
	if j.Meta.CreatedBy != "" || j.Meta.Preferences != nil {
		doc.Meta = &metaDocument{
			CreatedBy:   j.Meta.CreatedBy,
			Preferences: fromPreferences(j.Meta.Preferences),
		}
	}
	return doc
}

func (d *jobDocument) toJob() *scheduler.Job {
	j := &scheduler.Job{
		ID:             d.ID.Hex(),
		UserID:         refString(d.UserID),
		OwnerID:        d.XUserID,
		Text:           d.Text,
		AIPrompt:       d.AIPrompt,
		GenerateWithAI: d.GenerateWithAI,
		ScheduledAt:    d.ScheduledAt,
		Timezone:       d.Timezone,
		Repeat:         scheduler.Repeat(d.Repeat),
		Status:         scheduler.Status(d.Status),
		Attempts:       d.Attempts,
		MaxAttempts:    d.MaxAttempts,
		LastError:      d.LastError,
		ClaimedBy:      d.ClaimedBy,
		ClaimedAt:      d.ClaimedAt,
		PostedAt:       d.PostedAt,
		Response:       d.Response,
		CreatedAt:      d.CreatedAt,
		UpdatedAt:      d.UpdatedAt,
	}
	if d.Meta != nil {
		j.Meta = scheduler.Meta{
			CreatedBy:   d.Meta.CreatedBy,
			Preferences: d.Meta.Preferences.toPreferences(),
		}
	}
	return j
}

func (d *accountDocument) toAccount() *scheduler.Account {
	a := &scheduler.Account{
		OwnerID:         d.XUserID,
		Username:        d.Username,
		AccessTokenEnc:  d.OAuth.AccessTokenEnc,
		RefreshTokenEnc: d.OAuth.RefreshTokenEnc,
		ExpiresAt:       d.OAuth.ExpiresAt,
		UpdatedAt:       d.UpdatedAt,
	}
	a.UserID = refString(d.UserID)
	return a
}

// objectRef stores a hex user reference as an ObjectID, the type the web
// application writes.
func objectRef(id string) interface{} {
	if id == "" {
		return nil
	}
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		return oid
	}
	return id
}

// refString reads back a reference stored either as an ObjectID or a string.
func refString(v interface{}) string {
	switch v := v.(type) {
	case primitive.ObjectID:
		return v.Hex()
	case string:
		return v
	}
	return ""
}
