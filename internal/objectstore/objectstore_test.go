package objectstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAttachmentKey(t *testing.T) {
	assert.Equal(t, "attachments/ABC123/paper.pdf", AttachmentKey("ABC123", "paper.pdf"))
}
