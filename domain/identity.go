package domain

// UserAttributes is the verified identity attached to a session, captured
// from the identity provider at exchange time.
type UserAttributes struct {
	Sub             string          `json:"sub" bson:"sub"`
	Name            string          `json:"name,omitempty" bson:"name,omitempty"`
	Email           string          `json:"email,omitempty" bson:"email,omitempty"`
	Username        string          `json:"preferred_username,omitempty" bson:"preferred_username,omitempty"`
	PermissionLevel PermissionLevel `json:"permission_level" bson:"permission_level"`
	Groups          []string        `json:"groups,omitempty" bson:"groups,omitempty"`
}
