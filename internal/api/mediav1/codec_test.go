package mediav1

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/encoding"
)

func TestCodecRegistered(t *testing.T) {
	require.NotNil(t, encoding.GetCodecV2(CodecName))
}

func TestUploadRequestEncoding(t *testing.T) {
	data, err := jsonCodec{}.Marshal(&UploadMediaRequest{Chunk: []byte("abc")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"chunk":"YWJj"}`, string(data))

	var got UploadMediaRequest
	require.NoError(t, jsonCodec{}.Unmarshal(data, &got))
	assert.Nil(t, got.GetMetadata())
	assert.Equal(t, []byte("abc"), got.GetChunk())
}

func TestValidate(t *testing.T) {
	assert.Error(t, (*MediaMetadata)(nil).Validate())
	assert.Error(t, (&MediaMetadata{Filename: " "}).Validate())
	assert.Error(t, (&MediaMetadata{Filename: "a.mp3", Type: "image"}).Validate())
	assert.NoError(t, (&MediaMetadata{Filename: "a.mp3", Type: "audio"}).Validate())

	assert.Error(t, (&GetMediaRequest{}).Validate())
	assert.Error(t, (&ListMediaRequest{PageSize: 500}).Validate())
	assert.Error(t, (&UpdateMediaRequest{ID: 1}).Validate())
	assert.NoError(t, (&UpdateMediaRequest{ID: 1, UpdateMask: []string{"title"}}).Validate())
}
