package blocks

import "fmt"

// Split partitions blocks, in order, into message-sized chunks. A chunk is
// closed before a block would push its cumulative fallback length past
// maxMessageLength or its block count past maxBlocksPerMessage. A single
// block longer than maxMessageLength is placed alone in its own chunk;
// blocks are never split. Concatenating the output chunks reproduces the
// input exactly.
func Split(input []Block, maxMessageLength, maxBlocksPerMessage int) ([]Chunk, error) {
	if maxMessageLength <= 0 {
		return nil, fmt.Errorf("max message length must be greater than zero, got %d", maxMessageLength)
	}
	if maxBlocksPerMessage <= 0 {
		return nil, fmt.Errorf("max blocks per message must be greater than zero, got %d", maxBlocksPerMessage)
	}
	if len(input) == 0 {
		return nil, nil
	}

	var chunks []Chunk
	var current []Block
	currentLen := 0

	for _, block := range input {
		blockLen := len(block.Fallback())
		if len(current) > 0 && (currentLen+blockLen > maxMessageLength || len(current) >= maxBlocksPerMessage) {
			chunks = append(chunks, Chunk{Blocks: current})
			current = nil
			currentLen = 0
		}
		current = append(current, block)
		currentLen += blockLen
	}
	chunks = append(chunks, Chunk{Blocks: current})

	return chunks, nil
}
