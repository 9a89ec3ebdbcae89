package startup

import (
	"os"
	"testing"
	"time"
)

func TestGetBuildInfo(t *testing.T) {
	info := GetBuildInfo()

	if info.Version == "" {
		t.Error("Expected Version to be set")
	}
	if info.GoVersion == "" {
		t.Error("Expected GoVersion to be set")
	}
	if info.OS == "" {
		t.Error("Expected OS to be set")
	}
	if info.Arch == "" {
		t.Error("Expected Arch to be set")
	}

	if info.GoVersion != GoVersion {
		t.Errorf("Expected GoVersion=%s, got %s", GoVersion, info.GoVersion)
	}
}

func TestGetEnv(t *testing.T) {
	tests := []struct {
		name         string
		key          string
		defaultValue string
		envValue     string
		want         string
		setEnv       bool
	}{
		{
			name:         "Returns default when env var not set",
			key:          "TEST_UNSET_VAR",
			defaultValue: "default",
			want:         "default",
			setEnv:       false,
		},
		{
			name:         "Returns env value when set",
			key:          "TEST_SET_VAR",
			defaultValue: "default",
			envValue:     "custom",
			want:         "custom",
			setEnv:       true,
		},
		{
			name:         "Returns default when env var is empty",
			key:          "TEST_EMPTY_VAR",
			defaultValue: "default",
			envValue:     "",
			want:         "default",
			setEnv:       true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setEnv {
				t.Setenv(tt.key, tt.envValue)
			} else {
				os.Unsetenv(tt.key)
			}

			got := getEnv(tt.key, tt.defaultValue)
			if got != tt.want {
				t.Errorf("getEnv(%q, %q) = %q, want %q", tt.key, tt.defaultValue, got, tt.want)
			}
		})
	}
}

func TestGetEnvBool(t *testing.T) {
	t.Setenv("TEST_BOOL_TRUE", "true")
	t.Setenv("TEST_BOOL_GARBAGE", "maybe")

	if !getEnvBool("TEST_BOOL_TRUE", false) {
		t.Error("Expected true for TEST_BOOL_TRUE")
	}
	if !getEnvBool("TEST_BOOL_GARBAGE", true) {
		t.Error("Expected default when value is not parseable")
	}
	if getEnvBool("TEST_BOOL_UNSET", false) {
		t.Error("Expected default when env var not set")
	}
}

func TestGetEnvInt(t *testing.T) {
	t.Setenv("TEST_INT_OK", "42")
	t.Setenv("TEST_INT_NEGATIVE", "-5")
	t.Setenv("TEST_INT_GARBAGE", "many")

	if got := getEnvInt("TEST_INT_OK", 7); got != 42 {
		t.Errorf("Expected 42, got %d", got)
	}
	if got := getEnvInt("TEST_INT_NEGATIVE", 7); got != 7 {
		t.Errorf("Expected default for non-positive value, got %d", got)
	}
	if got := getEnvInt("TEST_INT_GARBAGE", 7); got != 7 {
		t.Errorf("Expected default for garbage value, got %d", got)
	}
}

func TestGetEnvDuration(t *testing.T) {
	t.Setenv("TEST_DUR_OK", "90s")
	t.Setenv("TEST_DUR_GARBAGE", "soon")

	if got := getEnvDuration("TEST_DUR_OK", time.Minute); got != 90*time.Second {
		t.Errorf("Expected 90s, got %v", got)
	}
	if got := getEnvDuration("TEST_DUR_GARBAGE", time.Minute); got != time.Minute {
		t.Errorf("Expected default for garbage value, got %v", got)
	}
}

func TestGetRouteGroup(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"/api/recipes/{id}/image", "api/recipes"},
		{"/api/auth/login", "api/auth"},
		{"/recipes/{id}/{file}", "recipes"},
		{"/healthz", "healthz"},
		{"/", ""},
	}

	for _, tt := range tests {
		if got := getRouteGroup(tt.path); got != tt.want {
			t.Errorf("getRouteGroup(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}

func TestEnsureDirectory(t *testing.T) {
	dir := t.TempDir()

	created := dir + "/nested/deep"
	if err := ensureDirectory(created, "test"); err != nil {
		t.Fatalf("ensureDirectory failed: %v", err)
	}
	info, err := os.Stat(created)
	if err != nil || !info.IsDir() {
		t.Fatalf("Expected directory to exist: %v", err)
	}

	// Existing directory is fine.
	if err := ensureDirectory(created, "test"); err != nil {
		t.Fatalf("ensureDirectory on existing dir failed: %v", err)
	}

	// A file at the path is an error.
	file := dir + "/notadir"
	if err := os.WriteFile(file, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := ensureDirectory(file, "test"); err == nil {
		t.Error("Expected error when path is a file")
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	uploads := t.TempDir()
	database := t.TempDir()
	t.Setenv("UPLOADS_DIR", uploads)
	t.Setenv("DATABASE_DIR", database)

	config, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if config.Port != "8080" {
		t.Errorf("Expected default port 8080, got %s", config.Port)
	}
	if config.MaxImageBytes != 10*1024*1024 {
		t.Errorf("Expected 10MB image ceiling, got %d", config.MaxImageBytes)
	}
	if config.MaxAvatarBytes != 5*1024*1024 {
		t.Errorf("Expected 5MB avatar ceiling, got %d", config.MaxAvatarBytes)
	}
	if config.MaxVideoBytes != 100*1024*1024 {
		t.Errorf("Expected 100MB video ceiling, got %d", config.MaxVideoBytes)
	}
	if config.MaxImageDimension != 2048 {
		t.Errorf("Expected default dimension 2048, got %d", config.MaxImageDimension)
	}
	if config.JPEGQuality != 85 {
		t.Errorf("Expected default quality 85, got %d", config.JPEGQuality)
	}
	if config.SweepInterval != 6*time.Hour {
		t.Errorf("Expected default sweep interval 6h, got %v", config.SweepInterval)
	}
	if config.DatabasePath != database+"/media.db" {
		t.Errorf("Unexpected database path: %s", config.DatabasePath)
	}
	if _, err := os.Stat(config.TmpDir); err != nil {
		t.Errorf("Expected staging directory to be created: %v", err)
	}
}
