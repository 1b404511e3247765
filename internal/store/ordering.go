package store

// removeID returns ids without id, reporting whether it was present.
func removeID(ids []int64, id int64) ([]int64, bool) {
	for i, candidate := range ids {
		if candidate == id {
			return append(ids[:i:i], ids[i+1:]...), true
		}
	}
	return ids, false
}

// insertAt inserts id at index, clamping index into [0, len(ids)].
func insertAt(ids []int64, id int64, index int) []int64 {
	if index < 0 {
		index = 0
	}
	if index > len(ids) {
		index = len(ids)
	}
	out := make([]int64, 0, len(ids)+1)
	out = append(out, ids[:index]...)
	out = append(out, id)
	out = append(out, ids[index:]...)
	return out
}
