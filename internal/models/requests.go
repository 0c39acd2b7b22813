package models

import "time"

type PublishRequest struct {
	Platforms       []string `json:"platforms" validate:"required,min=1,dive,required,platform"`
	CaptionOverride *string  `json:"caption_override" validate:"omitempty,max=2200"`
}

type ScheduleRequest struct {
	Platforms       []string  `json:"platforms" validate:"required,min=1,dive,required,platform"`
	ScheduleTime    time.Time `json:"schedule_time" validate:"required"`
	CaptionOverride *string   `json:"caption_override" validate:"omitempty,max=2200"`
}

type UpdateCaptionRequest struct {
	Caption  string   `json:"caption" validate:"required,max=2200"`
	Hashtags []string `json:"hashtags" validate:"max=30,dive,required,max=100"`
}

type GenerateCaptionRequest struct {
	Description     string   `json:"description" validate:"required,min=3,max=2000"`
	Tone            string   `json:"tone" validate:"omitempty,oneof=casual professional fun motivational educational trendy"`
	Niche           string   `json:"niche" validate:"omitempty,oneof=fitness food education lifestyle business tech"`
	Platforms       []string `json:"platforms"`
	IncludeHashtags *bool    `json:"include_hashtags"`
	MaxLength       int      `json:"max_length" validate:"omitempty,min=50,max=2200"`
	ContentID       *string  `json:"content_id" validate:"omitempty,uuid"`
}

type CaptionResponse struct {
	Caption    string   `json:"caption"`
	Hashtags   []string `json:"hashtags"`
	Engagement string   `json:"engagement"`
	Provider   string   `json:"provider"`
	Fallback   bool     `json:"fallback"`
}
