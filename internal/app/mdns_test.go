package app

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/andresaa/api-examen-conduccion/internal/config"
	"github.com/andresaa/api-examen-conduccion/internal/submission"
)

func TestMDNSInstanceName(t *testing.T) {
	assert.Equal(t, "Consultant Service A (lab-01 local)", mdnsInstance(submission.VariantA, "lab-01.local"))
	assert.Equal(t, "Consultant Service B (Lab PC 01)", mdnsInstance(submission.VariantB, " Lab  PC_01 "))
	assert.Equal(t, "Consultant Service B", mdnsInstance(submission.VariantB, "  "))
	assert.Len(t, []rune(mdnsInstance(submission.VariantA, strings.Repeat("á", 80))), 63)
}

func TestMDNSHost(t *testing.T) {
	assert.Equal(t, "lab-pc-01.local", mdnsHost(" Lab PC_01 "))
	assert.Equal(t, "box.lan", mdnsHost("box.lan"))
	assert.Equal(t, "consultant.local", mdnsHost(""))
	assert.Equal(t, "and.local", mdnsHost("ñandú"))
	assert.Equal(t, "consultant.local", mdnsHost("--"))
}

func TestMDNSTXTRecords(t *testing.T) {
	a := New(config.Config{HTTPPort: 3000, APIVariant: "b", DataModel: "center"}, nil)
	txt := a.mdnsTXT("Lab PC")

	assert.Contains(t, txt, "http_port=3000")
	assert.Contains(t, txt, "base_path=/consultant-service/v1")
	assert.Contains(t, txt, "api_variant=b")
	assert.Contains(t, txt, "data_model=center")
	assert.Contains(t, txt, "host=lab-pc.local")
}
