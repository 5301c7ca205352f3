package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewParsesLevelAndFallsBack(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, New("DEBUG", "text", nil).GetLevel())
	assert.Equal(t, logrus.InfoLevel, New("nonsense", "text", nil).GetLevel())
}

func TestWhatsAppSubModules(t *testing.T) {
	var buf bytes.Buffer
	l := New("debug", "json", &buf)

	wa := WhatsApp(logrus.NewEntry(l), "Client-123").Sub("Socket")
	wa.Infof("hello %d", 1)

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "hello 1", line["msg"])
	assert.Equal(t, "Client-123/Socket", line["module"])
}
