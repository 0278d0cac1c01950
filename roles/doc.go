// Package roles answers whether a user holds an application role, such as "admin",
// by looking up the user_roles table.
//
// Every [Store] returns (false, nil) for an absent row and an error only when the lookup
// itself failed. Callers that must never fail treat an error as false.
package roles
