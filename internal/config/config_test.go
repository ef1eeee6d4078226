package config

import "testing"

func validConfig() *Config {
	return &Config{
		Region:        "us-south",
		GUID:          "guid-1",
		APIKey:        "key-1",
		CollectionID:  "web-app",
		EnvironmentID: "dev",
		HTTPAddr:      ":8050",
		LiveUpdate:    true,
	}
}

func TestValidate(t *testing.T) {
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"missing region", func(c *Config) { c.Region = "" }, "APPCONFIG_REGION"},
		{"missing guid", func(c *Config) { c.GUID = "" }, "APPCONFIG_GUID"},
		{"missing apikey", func(c *Config) { c.APIKey = "" }, "APPCONFIG_APIKEY"},
		{"missing collection", func(c *Config) { c.CollectionID = "" }, "APPCONFIG_COLLECTION_ID"},
		{"missing environment", func(c *Config) { c.EnvironmentID = "" }, "APPCONFIG_ENVIRONMENT_ID"},
		{"missing http addr", func(c *Config) { c.HTTPAddr = "" }, "HTTP_ADDR"},
		{"offline without bootstrap", func(c *Config) { c.LiveUpdate = false }, "BOOTSTRAP_FILE"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()
			verr, ok := err.(ValidationError)
			if !ok {
				t.Fatalf("err = %v, want ValidationError", err)
			}
			if verr.Field != tt.field {
				t.Fatalf("Field = %s, want %s", verr.Field, tt.field)
			}
		})
	}
}

func TestValidate_ServiceURLSubstitutesRegion(t *testing.T) {
	c := validConfig()
	c.Region = ""
	c.ServiceURL = "http://localhost:9000"
	if err := c.Validate(); err != nil {
		t.Fatalf("service URL must substitute for region: %v", err)
	}
}

func TestValidate_OfflineWithBootstrap(t *testing.T) {
	c := validConfig()
	c.LiveUpdate = false
	c.BootstrapFile = "/etc/appconfig/bootstrap.json"
	if err := c.Validate(); err != nil {
		t.Fatalf("offline with bootstrap must validate: %v", err)
	}
}

func TestLoad_Defaults(t *testing.T) {
	c, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.HTTPAddr != ":8050" {
		t.Fatalf("HTTPAddr default = %s", c.HTTPAddr)
	}
	if !c.LiveUpdate {
		t.Fatal("LiveUpdate must default to true")
	}
	if c.LogLevel != "info" {
		t.Fatalf("LogLevel default = %s", c.LogLevel)
	}
}
