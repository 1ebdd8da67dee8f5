package topology

// batchSize bounds how many set members one mutate transaction adds
// at a time, matching spec's 500-per-transaction cap for bulk
// port-group/address-set membership changes. Adapted from the
// teacher's batch processor: that one queues and flushes
// asynchronously on a timer; topology adds must commit in the order
// they were issued (ordering guarantee in spec §5), so chunking here
// is synchronous — each chunk's transaction must commit before the
// next chunk is sent.
const batchSize = 500

// chunkStrings splits items into batchSize-sized slices, preserving
// order, the shape every bulk-membership helper below loops over.
func chunkStrings(items []string) [][]string {
	if len(items) == 0 {
		return nil
	}
	var chunks [][]string
	for start := 0; start < len(items); start += batchSize {
		end := start + batchSize
		if end > len(items) {
			end = len(items)
		}
		chunks = append(chunks, items[start:end])
	}
	return chunks
}
