package template

import (
	"strings"
	"testing"

	"github.com/pelletier/go-toml/v2"
)

func TestGenerateTypes(t *testing.T) {
	g := NewGenerator()
	for _, typ := range g.GetSupportedTypes() {
		t.Run(typ, func(t *testing.T) {
			b, err := g.GenerateTOML(TemplateType(typ), "/var/lib/agentvisor")
			if err != nil {
				t.Fatalf("generate: %v", err)
			}
			var back Document
			if err := toml.Unmarshal(b, &back); err != nil {
				t.Fatalf("unmarshal: %v\n%s", err, b)
			}
			if back.Root != "/var/lib/agentvisor" {
				t.Fatalf("root = %q", back.Root)
			}
			if back.Supervisor == nil || back.Supervisor.HeartbeatTimeout != "15s" {
				t.Fatalf("supervisor section: %+v", back.Supervisor)
			}
		})
	}
}

func TestGenerateSpecifics(t *testing.T) {
	g := NewGenerator()

	d, err := g.Generate(TypeServer, "")
	if err != nil {
		t.Fatalf("server: %v", err)
	}
	if d.Root != ".agentvisor" || d.Supervisor.Listen != "127.0.0.1:8090" {
		t.Fatalf("server defaults: root=%q listen=%q", d.Root, d.Supervisor.Listen)
	}
	if !d.Supervisor.TLS.Enabled || !d.Supervisor.Auth.Enabled {
		t.Fatalf("server template must enable tls and auth")
	}

	d, err = g.Generate(TypeSQLite, "state")
	if err != nil {
		t.Fatalf("sqlite: %v", err)
	}
	if d.Store != "sqlite://state/agentvisor.db" {
		t.Fatalf("store = %q", d.Store)
	}

	d, err = g.Generate(TypeHistory, "state")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if !d.History.Enabled {
		t.Fatalf("history template must enable history")
	}

	b, err := g.GenerateTOML(TypeMinimal, "state")
	if err != nil {
		t.Fatalf("minimal: %v", err)
	}
	out := string(b)
	if !strings.Contains(out, "[workunits.ALPHA_DETECTION]") && !strings.Contains(out, "[workunits]") {
		t.Fatalf("work units missing:\n%s", out)
	}
	if strings.Contains(out, "store =") {
		t.Fatalf("empty store must be omitted:\n%s", out)
	}

	if _, err := g.Generate("bogus", ""); err == nil {
		t.Fatalf("expected error for unknown template")
	}
}
