package amqp

import "math/bits"

// maxChannelID bounds automatic allocation: ids come from [1, maxChannelID).
const maxChannelID = 65535

// channelIDs is a bitmap of registered channel ids, kept in step with the
// session table so the lowest free id is found without scanning the map.
type channelIDs struct {
	words [1024]uint64
}

func (ids *channelIDs) set(id uint16) {
	ids.words[id/64] |= 1 << (id % 64)
}

func (ids *channelIDs) clear(id uint16) {
	ids.words[id/64] &^= 1 << (id % 64)
}

// lowestFree returns the lowest id in [1, maxChannelID) not in the set.
func (ids *channelIDs) lowestFree() (uint16, bool) {
	for index, word := range ids.words {
		free := ^word
		if index == 0 {
			free &^= 1
		}
		if index == len(ids.words)-1 {
			free &^= 1 << 63
		}
		if free != 0 {
			return uint16(index*64 + bits.TrailingZeros64(free)), true // #nosec G115 -- index < 1024
		}
	}
	return 0, false
}
