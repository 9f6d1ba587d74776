package models

import "time"

// Realtime stream frame types
const (
	FrameOpen     = "open"
	FrameSend     = "send"
	FrameMessages = "messages"
	FrameWarning  = "warning"
	FrameError    = "error"
)

// Domain types

// Option is one selectable choice of a poll, stored embedded in the poll row.
type Option struct {
	Text  string `json:"text"`
	Votes int    `json:"votes"`
}

type Poll struct {
	ID            string    `json:"id"`
	Title         string    `json:"title"`
	Description   *string   `json:"description,omitempty"`
	DueDate       time.Time `json:"due_date"`
	Options       []Option  `json:"options"`
	VotesCount    int       `json:"votes_count"`
	TallyRev      int64     `json:"-"` // bumped on every tally write
	IsPublic      bool      `json:"is_public"`
	AllowMultiple bool      `json:"allow_multiple"`
	AllowComments bool      `json:"allow_comments"`
	Tags          []string  `json:"tags,omitempty"`
	ImageURL      *string   `json:"image_url,omitempty"`
	CategoryID    *string   `json:"category_id,omitempty"`
	CreatedBy     string    `json:"created_by"`
	CreatedAt     time.Time `json:"created_at"`
}

// Closed reports whether voting has ended at now. A poll is closed from its
// due date onwards.
func (p Poll) Closed(now time.Time) bool {
	return !now.Before(p.DueDate)
}

// TallySum is the sum of all option counts.
func (p Poll) TallySum() int {
	sum := 0
	for _, o := range p.Options {
		sum += o.Votes
	}
	return sum
}

// TallyConsistent reports whether the redundant votes_count matches the
// option counts.
func (p Poll) TallyConsistent() bool {
	return p.VotesCount == p.TallySum()
}

// Percentages returns each option's share of the option total, rounded to
// whole percent. All zeros when nobody has voted.
func (p Poll) Percentages() []int {
	out := make([]int, len(p.Options))
	total := p.TallySum()
	if total == 0 {
		return out
	}
	for i, o := range p.Options {
		out[i] = (o.Votes*100 + total/2) / total
	}
	return out
}

// Clone returns a deep copy so callers can mutate counts without touching a
// shared value.
func (p Poll) Clone() Poll {
	c := p
	c.Options = append([]Option(nil), p.Options...)
	if p.Tags != nil {
		c.Tags = append([]string(nil), p.Tags...)
	}
	return c
}

// Ballot records one user's participation in one poll.
type Ballot struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	PollID          string    `json:"vote_id"`
	SelectedIndex   int       `json:"selected_option_index"`
	SelectedIndices []int     `json:"selected_option_indices"`
	CreatedAt       time.Time `json:"created_at"`
}

// Indices returns the chosen option indices, falling back to the single
// index for rows written before multi-select existed.
func (b Ballot) Indices() []int {
	if len(b.SelectedIndices) > 0 {
		return append([]int(nil), b.SelectedIndices...)
	}
	return []int{b.SelectedIndex}
}

type ChatMessage struct {
	ID         string    `json:"id"`
	RoomID     string    `json:"room_id"`
	SenderName string    `json:"sender_name"`
	SenderID   string    `json:"sender_id,omitempty"`
	Content    *string   `json:"content"`
	FileURL    *string   `json:"file_url,omitempty"`
	FileName   *string   `json:"file_name,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// IsFile reports whether the message shares a file instead of text.
func (m ChatMessage) IsFile() bool {
	return m.FileURL != nil
}

// Request types

type CreatePollRequest struct {
	Title         string    `json:"title"`
	Description   string    `json:"description"`
	DueDate       time.Time `json:"due_date"`
	Options       []string  `json:"options"`
	IsPublic      *bool     `json:"is_public"`
	AllowMultiple bool      `json:"allow_multiple"`
	AllowComments *bool     `json:"allow_comments"`
	Tags          []string  `json:"tags"`
	ImageURL      string    `json:"image_url"`
	CategoryID    string    `json:"category_id"`
}

type SubmitBallotRequest struct {
	Options []int `json:"options"`
}

type SendMessageRequest struct {
	Content string `json:"content"`
}

// Response types

type CreatePollResponse struct {
	ID string `json:"id"`
}

// PollView is the voter-facing rendering of a poll and the caller's
// participation in it.
type PollView struct {
	Poll              *Poll  `json:"poll,omitempty"`
	State             string `json:"state"`
	Closed            bool   `json:"closed"`
	CanSubmit         bool   `json:"can_submit"`
	HasVoted          bool   `json:"has_voted"`
	PreviousSelection []int  `json:"previous_selection,omitempty"`
	Selection         []int  `json:"selection,omitempty"`
	Percentages       []int  `json:"percentages,omitempty"`
	Message           string `json:"message,omitempty"`
	Warning           string `json:"warning,omitempty"`
}

type SubmitBallotResponse struct {
	Status  string   `json:"status"`
	Message string   `json:"message"`
	View    PollView `json:"view"`
}

type PollListResponse struct {
	Polls []Poll `json:"polls"`
}

type MessagesResponse struct {
	RoomID   string        `json:"room_id"`
	Messages []ChatMessage `json:"messages"`
}

// StreamFrame is exchanged over the chat WebSocket in both directions.
type StreamFrame struct {
	Type     string        `json:"type"`
	Room     string        `json:"room,omitempty"`
	Content  string        `json:"content,omitempty"`
	Messages []ChatMessage `json:"messages,omitempty"`
	Message  string        `json:"message,omitempty"`
}

// Error response

type ErrorResponse struct {
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	Message string `json:"message,omitempty"`
}
