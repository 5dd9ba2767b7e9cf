package tss

// ParticipantSet holds the full ordered participant list for a session along
// with which one of them is "us" (nil on the coordinator, which is not
// itself a participant).
type ParticipantSet struct {
	Participants SortedParticipants
	OurID        *Participant
}

// NewParticipantSetFromUnSorted builds a ParticipantSet, sorting the given
// participants by identifier.
func NewParticipantSetFromUnSorted(ps UnSortedParticipants, ourID *Participant) *ParticipantSet {
	return &ParticipantSet{Participants: SortParticipants(ps), OurID: ourID}
}

// NewParticipantSetFromUnSortedWithoutUs builds a coordinator-side
// ParticipantSet: there is no local participant identity.
func NewParticipantSetFromUnSortedWithoutUs(ps UnSortedParticipants) *ParticipantSet {
	return NewParticipantSetFromUnSorted(ps, nil)
}

func (s *ParticipantSet) IDs() SortedParticipants {
	return s.Participants
}

func (s *ParticipantSet) OurParticipant() *Participant {
	return s.OurID
}

func (s *ParticipantSet) Len() int {
	return len(s.Participants)
}
