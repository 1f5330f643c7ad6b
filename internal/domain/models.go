package domain

import (
	"time"
)

type TrackedPlayer struct {
	Puuid       string
	Region      string
	Platform    string
	Name        string
	Tag         string
	LastMatchID *string
	Solo        RankSnapshot
	DoubleUp    RankSnapshot
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

func (p TrackedPlayer) RiotID() string {
	return p.Name + "#" + p.Tag
}

// RankSnapshot is the tagged rank variant: a zero-value Tier means unranked,
// in which case Division and LP carry no meaning.
type RankSnapshot struct {
	Tier     string
	Division string
	LP       int
}

func (r RankSnapshot) IsRanked() bool {
	return r.Tier != ""
}

type RankSnapshots struct {
	Solo     RankSnapshot
	DoubleUp RankSnapshot
}

type MatchRecord struct {
	MatchID      string
	QueueID      int
	Participants []Participant
}

// Participant returns the entry for puuid, or nil when the player did not
// take part in the match.
func (m *MatchRecord) Participant(puuid string) *Participant {
	for i := range m.Participants {
		if m.Participants[i].Puuid == puuid {
			return &m.Participants[i]
		}
	}
	return nil
}

// Teammate returns the other participant sharing entry's partner group.
func (m *MatchRecord) Teammate(entry *Participant) *Participant {
	if entry.PartnerGroupID == 0 {
		return nil
	}
	for i := range m.Participants {
		p := &m.Participants[i]
		if p.Puuid != entry.Puuid && p.PartnerGroupID == entry.PartnerGroupID {
			return p
		}
	}
	return nil
}

type Participant struct {
	Puuid          string
	Name           string
	Tag            string
	Placement      int
	PartnerGroupID int
	Units          []Unit
}

type Unit struct {
	CharacterID string
	Stars       int
	Items       []string
}

type DeltaResult struct {
	Old   RankSnapshot
	New   RankSnapshot
	Delta *int
}

type DeltaResults struct {
	Solo     DeltaResult
	DoubleUp DeltaResult
}

// Notification is the channel-agnostic payload handed to the delivery
// boundary. Either field may be empty; Alert marks operator-facing events.
type Notification struct {
	Text      string
	Image     []byte
	ImageName string
	Alert     bool
}

type RankHistoryEntry struct {
	ID        string
	Puuid     string
	MatchID   string
	Queue     string
	Snapshot  RankSnapshot
	Delta     *int
	CreatedAt time.Time
}
