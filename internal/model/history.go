package model

import "sort"

// AttachHistory populates each turn's CallHistory with the ordered prefix of
// its call's turns up to and including itself. Ordering within a call is by
// conversation id ascending, which mirrors creation order. Turns stored in a
// history carry no nested history of their own.
func AttachHistory(turns []Turn) {
	byCall := make(map[string][]Turn, len(turns))
	for _, t := range turns {
		byCall[t.CallUUID] = append(byCall[t.CallUUID], t)
	}
	for uuid, call := range byCall {
		sort.SliceStable(call, func(i, j int) bool {
			return call[i].ConversationID < call[j].ConversationID
		})
		for i := range call {
			call[i].CallHistory = nil
		}
		byCall[uuid] = call
	}

	for i := range turns {
		call := byCall[turns[i].CallUUID]
		for j, t := range call {
			if t.ConversationUUID == turns[i].ConversationUUID {
				prefix := make([]Turn, j+1)
				copy(prefix, call[:j+1])
				turns[i].CallHistory = prefix
				break
			}
		}
	}
}
