//go:generate go run github.com/abice/go-enum --file=$GOFILE --names --nocase

package config

// Platform is the messaging platform entries are delivered to
// ENUM(discord,telegram)
type Platform string

// AppEnv represents the application environment
// ENUM(local,production,development,testing)
type AppEnv string
