package blocks

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChunkHashChangesWithContent(t *testing.T) {
	first := Chunk{Blocks: sections("hello")}
	same := Chunk{Blocks: sections("hello")}
	different := Chunk{Blocks: sections("hello, updated")}

	require.Equal(t, first.Hash(), same.Hash())
	require.NotEqual(t, first.Hash(), different.Hash())
}

func TestChunkHashDistinguishesBlockTypes(t *testing.T) {
	section := Chunk{Blocks: []Block{Section{Text: "status"}}}
	header := Chunk{Blocks: []Block{Header{Text: "status"}}}
	require.NotEqual(t, section.Hash(), header.Hash())
}

func TestChunkFallbackJoinsBlocks(t *testing.T) {
	chunk := Chunk{Blocks: []Block{Header{Text: "Build"}, Section{Text: "passing"}, Divider{}}}
	require.Equal(t, "Build\npassing\n---", chunk.Fallback())
}

func TestDecodeSupportedBlocks(t *testing.T) {
	raw := []json.RawMessage{
		json.RawMessage(`{"type":"header","text":{"type":"plain_text","text":"Title"}}`),
		json.RawMessage(`{"type":"section","text":{"type":"mrkdwn","text":"body"}}`),
		json.RawMessage(`{"type":"context","elements":[{"type":"mrkdwn","text":"note"}]}`),
		json.RawMessage(`{"type":"divider"}`),
	}

	decoded, err := Decode(raw)
	require.NoError(t, err)
	require.Equal(t, []Block{Header{Text: "Title"}, Section{Text: "body"}, Context{Text: "note"}, Divider{}}, decoded)
}

func TestDecodeRejectsUnknownType(t *testing.T) {
	_, err := Decode([]json.RawMessage{json.RawMessage(`{"type":"image"}`)})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported type")
}

func TestDecodeRejectsMissingSectionText(t *testing.T) {
	_, err := Decode([]json.RawMessage{json.RawMessage(`{"type":"section"}`)})
	require.Error(t, err)
}
