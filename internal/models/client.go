package models

import "time"

const ClientStatusUnallocated = "unallocated"

type Client struct {
	UID                           string    `json:"-"`
	ClientID                      string    `json:"client_id"`
	Email                         string    `json:"email"`
	FullName                      string    `json:"full_name"`
	DateOfBirth                   string    `json:"date_of_birth"`
	Age                           int       `json:"age"`
	PhoneNumber                   string    `json:"phoneNumber"`
	Address                       string    `json:"address"`
	County                        string    `json:"county"`
	LanguagePreference            string    `json:"language_preference"`
	Nationality                   string    `json:"nationality"`
	ProfilePhotoURL               string    `json:"profile_photo_url"`
	Status                        string    `json:"status"`
	AssignedAgentID               string    `json:"assigned_agent_id"`
	UploadedPersonalDocumentsPath string    `json:"uploaded_personal_documents_path"`
	CreatedAt                     time.Time `json:"created_at"`
	UpdatedAt                     time.Time `json:"updated_at"`
}

type Agent struct {
	ID          string `json:"-"`
	DisplayName string `json:"displayName"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
}
