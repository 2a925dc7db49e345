package gemini

import (
	"google.golang.org/genai"

	"github.com/storyloom/loom/llm"
)

func messagesToContents(messages []*llm.Message) []*genai.Content {
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		content := &genai.Content{Role: string(roleToGenai(m.Role))}
		for _, p := range m.Parts {
			content.Parts = append(content.Parts, partToGenai(p))
		}
		contents = append(contents, content)
	}
	return contents
}

func roleToGenai(role llm.Role) genai.Role {
	if role == llm.Model {
		return genai.RoleModel
	}
	return genai.RoleUser
}

func partToGenai(p llm.Part) *genai.Part {
	part := &genai.Part{
		Text:             p.Text,
		Thought:          p.Thought,
		ThoughtSignature: p.ThoughtSignature,
	}
	if p.FunctionCall != nil {
		part.FunctionCall = &genai.FunctionCall{
			Name: p.FunctionCall.Name,
			Args: p.FunctionCall.Args,
		}
	}
	if p.FileURI != "" {
		part.FileData = &genai.FileData{
			FileURI:  p.FileURI,
			MIMEType: p.MIMEType,
		}
	}
	if p.FunctionResponse != nil {
		part.FunctionResponse = &genai.FunctionResponse{
			Name:     p.FunctionResponse.Name,
			Response: p.FunctionResponse.Response,
		}
	}
	return part
}

func usageFromGenai(meta *genai.GenerateContentResponseUsageMetadata) *llm.Usage {
	if meta == nil {
		return nil
	}
	return &llm.Usage{
		PromptTokens: int(meta.PromptTokenCount),
		CachedTokens: int(meta.CachedContentTokenCount),
		OutputTokens: int(meta.CandidatesTokenCount) + int(meta.ThoughtsTokenCount),
	}
}
