package schema

// Built-in classes backing the authentication subsystem. They are appended
// to every schema; an application class with the same name extends them
// instead of colliding.

func builtinClasses() []*Class {
	return []*Class{
		{
			Name:        "User",
			Description: "An account created through one of the authentication methods.",
			Fields: map[string]Field{
				"provider":      {Type: TypeString},
				"email":         {Type: TypeEmail},
				"verifiedEmail": {Type: TypeBoolean},
				"role":          {Type: TypePointer, Class: "Role"},
			},
		},
		{
			Name: "Role",
			Fields: map[string]Field{
				"name":  {Type: TypeString, Required: true},
				"users": {Type: TypeRelation, Class: "User"},
			},
		},
		{
			Name:        "Session",
			Description: "Issued on sign-in and sign-up; refresh rotates the tokens.",
			Fields: map[string]Field{
				"user":                  {Type: TypePointer, Class: "User", Required: true},
				"accessToken":           {Type: TypeString, Required: true},
				"refreshToken":          {Type: TypeString},
				"accessTokenExpiresAt":  {Type: TypeDate},
				"refreshTokenExpiresAt": {Type: TypeDate},
			},
		},
	}
}
