package models

import "github.com/brahmalabs/baman-engine/pkg/jsonutil"

// Assistant is a teacher-created, subject-scoped knowledge bot.
type Assistant struct {
	ID                jsonutil.FlexibleString `json:"id"`
	Subject           string                  `json:"subject"`
	ClassName         string                  `json:"class_name"`
	About             string                  `json:"about,omitempty"`
	ProfileImage      string                  `json:"profile_image,omitempty"`
	Teacher           string                  `json:"teacher,omitempty"`
	AllowedStudents   []string                `json:"allowed_students"`
	Channels          []string                `json:"channels,omitempty"`
	OwnContent        []ContentArtifact       `json:"own_content"`
	SupportingContent []ContentArtifact       `json:"supporting_content"`
}

// Corpus returns the artifacts of the given corpus.
func (a *Assistant) Corpus(tag CorpusTag) []ContentArtifact {
	switch tag {
	case CorpusOwn:
		return a.OwnContent
	case CorpusSupporting:
		return a.SupportingContent
	}
	return nil
}

// HasStudent reports whether studentID is in the allowed set.
func (a *Assistant) HasStudent(studentID string) bool {
	for _, s := range a.AllowedStudents {
		if s == studentID {
			return true
		}
	}
	return false
}

// AssistantSummary is the dashboard row for an assistant.
type AssistantSummary struct {
	ID        jsonutil.FlexibleString `json:"id"`
	Subject   string                  `json:"subject"`
	ClassName string                  `json:"class_name"`
	Teacher   string                  `json:"teacher,omitempty"`
}

// AssistantMetadata is the teacher-supplied input for creating an assistant.
type AssistantMetadata struct {
	Subject      string `json:"subject"`
	ClassName    string `json:"class_name"`
	About        string `json:"about,omitempty"`
	ProfileImage string `json:"profile_image,omitempty"`
}

// AssistantPatch carries the fields to change on an existing assistant.
// Nil fields are left untouched.
type AssistantPatch struct {
	Subject      *string  `json:"subject,omitempty"`
	ClassName    *string  `json:"class_name,omitempty"`
	About        *string  `json:"about,omitempty"`
	ProfileImage *string  `json:"profile_image,omitempty"`
	Channels     []string `json:"channels,omitempty"`
}

// IsEmpty reports whether the patch changes nothing.
func (p AssistantPatch) IsEmpty() bool {
	return p.Subject == nil && p.ClassName == nil && p.About == nil &&
		p.ProfileImage == nil && p.Channels == nil
}

// ApplyTo copies the set fields onto a.
func (p AssistantPatch) ApplyTo(a *Assistant) {
	if p.Subject != nil {
		a.Subject = *p.Subject
	}
	if p.ClassName != nil {
		a.ClassName = *p.ClassName
	}
	if p.About != nil {
		a.About = *p.About
	}
	if p.ProfileImage != nil {
		a.ProfileImage = *p.ProfileImage
	}
	if p.Channels != nil {
		a.Channels = append([]string(nil), p.Channels...)
	}
}
