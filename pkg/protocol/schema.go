package protocol

import (
	"github.com/invopop/jsonschema"
)

// Catalog groups every payload of the protocol so a single schema document
// describes the whole event catalog.
type Catalog struct {
	Whoami             string             `json:"whoami" jsonschema:"description=Persisted session token (C->S)"`
	WhoamiSuccess      WhoamiSuccess      `json:"whoami:success" jsonschema:"description=Previously claimed nation (S->C)"`
	SelectState        string             `json:"selection:selectState" jsonschema:"description=Nation claim intent (C->S)"`
	TakenStates        []string           `json:"selection:takenStates" jsonschema:"description=Nations claimed by any connected player (S->C)"`
	PlayerJoin         JoinAnnouncement   `json:"player:join" jsonschema:"description=Join announcement (C->S)"`
	BasePosition       BasePosition       `json:"player:basePosition" jsonschema:"description=Authoritative base assignment (S->C)"`
	PlayerJoined       PlayerJoined       `json:"player:joined" jsonschema:"description=Player joined broadcast (S->C)"`
	AllBases           []BaseRecord       `json:"player:allBases" jsonschema:"description=Full roster snapshot (S->C)"`
	PlayerDisconnected PlayerDisconnected `json:"player:disconnected" jsonschema:"description=Player left broadcast (S->C)"`
	MissileLaunch      LaunchRequest      `json:"missile:launch" jsonschema:"description=Launch request (C->S)"`
	MissileLaunched    MissileLaunched    `json:"missile:launched" jsonschema:"description=Launch broadcast including the sender's own echo (S->C)"`
	Session            SessionResponse    `json:"session" jsonschema:"description=GET /session response"`
	Parameters         LaunchParameters   `json:"parameters" jsonschema:"description=GET /script/parameters.json document"`
	SaveCoordinates    SaveCoordinates    `json:"saveCoordinates" jsonschema:"description=POST /api/save-coordinates body"`
}

// Schema returns the JSON schema of the event catalog.
func Schema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{
		AllowAdditionalProperties: true,
	}
	schema := reflector.Reflect(new(Catalog))
	schema.Title = "Globe client protocol"
	schema.Description = "Payloads exchanged over the persistent connection and side-channel endpoints"
	return schema
}
