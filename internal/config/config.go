// Package config holds the typed server configuration. Defaults live in
// code; the server binary overrides individual fields from flags.
package config

type Server struct {
	Port                            int
	BindAddress                     string
	MaxConnections                  int
	HeartbeatIntervalSeconds        int
	ConnectionTimeoutSeconds        int
	MaxRequestsPerMinute            int
	DisconnectionGracePeriodSeconds int
}

type Security struct {
	TokenSecret          string
	TokenExpirationHours int
	MaxSessionsPerPlayer int
}

type Matchmaking struct {
	DefaultRatingRange             int
	MaxRatingRange                 int
	RatingExpansionIntervalSeconds int
	RatingExpansionAmount          int
}

type Rating struct {
	DefaultRating int
	KFactor       int
	MinRating     int
	MaxRating     int
}

type Database struct {
	UseInMemory bool
	Dir         string
}

type Config struct {
	Server      Server
	Security    Security
	Matchmaking Matchmaking
	Rating      Rating
	Database    Database
}

// Default returns the production configuration.
func Default() *Config {
	return &Config{
		Server: Server{
			Port:                            8787,
			BindAddress:                     "0.0.0.0",
			MaxConnections:                  1024,
			HeartbeatIntervalSeconds:        30,
			ConnectionTimeoutSeconds:        90,
			MaxRequestsPerMinute:            120,
			DisconnectionGracePeriodSeconds: 30,
		},
		Security: Security{
			TokenExpirationHours: 24,
			MaxSessionsPerPlayer: 5,
		},
		Matchmaking: Matchmaking{
			DefaultRatingRange:             100,
			MaxRatingRange:                 500,
			RatingExpansionIntervalSeconds: 10,
			RatingExpansionAmount:          50,
		},
		Rating: Rating{
			DefaultRating: 1200,
			KFactor:       32,
			MinRating:     100,
			MaxRating:     3000,
		},
		Database: Database{
			Dir: "data",
		},
	}
}

// Dev returns the development preset: in-memory stores and a relaxed rate
// limit. The token secret stays empty; the server generates an ephemeral one.
func Dev() *Config {
	c := Default()
	c.Server.MaxRequestsPerMinute = 1000
	c.Database.UseInMemory = true
	return c
}
