package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPutRequest_RoundTrip(t *testing.T) {
	in := PutRequest{
		Type: 3, Putter: 1, Priority: -5, Answer: 2, Target: -1,
		Parallelism: 1, Strictness: 0, Accuracy: 0,
		Length: 4, Inline: true, Payload: []byte("data"),
	}
	b, err := in.MarshalBinary()
	require.NoError(t, err)

	var out PutRequest
	require.NoError(t, out.UnmarshalBinary(b))
	require.Equal(t, in, out)
}

func TestPutRequest_NotInline_NoPayload(t *testing.T) {
	in := PutRequest{Type: 1, Target: -1, Inline: false}
	b, err := in.MarshalBinary()
	require.NoError(t, err)

	var out PutRequest
	require.NoError(t, out.UnmarshalBinary(b))
	require.False(t, out.Inline)
	require.Nil(t, out.Payload)
}

func TestGetResponse_RoundTrip(t *testing.T) {
	in := GetResponse{Code: CodeSuccess, AnswerRank: 2, PayloadSource: 4, Type: 1, Length: 10, Parallelism: 1}
	b, err := in.MarshalBinary()
	require.NoError(t, err)

	var out GetResponse
	require.NoError(t, out.UnmarshalBinary(b))
	require.Equal(t, in, out)
}

func TestStoreRequest_RoundTrip_WithSubscript(t *testing.T) {
	in := StoreRequest{ID: 42, HasSub: true, Subscript: "key1", Type: 2, Decr: 1, StoreRefs: 0, Payload: []byte{1, 2, 3}}
	b, err := in.MarshalBinary()
	require.NoError(t, err)

	var out StoreRequest
	require.NoError(t, out.UnmarshalBinary(b))
	require.Equal(t, in, out)
}

func TestStoreRequest_RoundTrip_NoSubscript(t *testing.T) {
	in := StoreRequest{ID: 7, HasSub: false, Type: 1, Payload: []byte("x")}
	b, err := in.MarshalBinary()
	require.NoError(t, err)

	var out StoreRequest
	require.NoError(t, out.UnmarshalBinary(b))
	require.Equal(t, "", out.Subscript)
	require.Equal(t, in.ID, out.ID)
}

func TestSyncRequestHeader_RoundTrip(t *testing.T) {
	in := SyncRequestHeader{FromRank: 3, Kind: SyncSteal, Payload: []byte("hdr")}
	b, err := in.MarshalBinary()
	require.NoError(t, err)

	var out SyncRequestHeader
	require.NoError(t, out.UnmarshalBinary(b))
	require.Equal(t, in, out)
}

func TestStealRequest_RoundTrip(t *testing.T) {
	in := StealRequest{MaxMemory: 1024, WaitCounts: map[int32]int32{1: 3, 2: 0}}
	b, err := in.MarshalBinary()
	require.NoError(t, err)

	var out StealRequest
	require.NoError(t, out.UnmarshalBinary(b))
	require.Equal(t, in.MaxMemory, out.MaxMemory)
	require.Equal(t, in.WaitCounts, out.WaitCounts)
}

func TestStolenTaskBatch_RoundTrip(t *testing.T) {
	in := StolenTaskBatch{Tasks: []StolenTask{
		{ID: 1, Type: 2, Priority: -1, Putter: 0, Answer: -1, Parallelism: 1, Payload: []byte("a")},
		{ID: 2, Type: 2, Priority: -1, Putter: 0, Answer: -1, Parallelism: 1, Payload: []byte("bb")},
	}}
	b, err := in.MarshalBinary()
	require.NoError(t, err)

	var out StolenTaskBatch
	require.NoError(t, out.UnmarshalBinary(b))
	require.Equal(t, in, out)
}

func TestTag_String(t *testing.T) {
	require.Equal(t, "STEAL", TagSteal.String())
	require.Equal(t, "TAG(?)", Tag(9999).String())
}
