package llm

// Built-in catalogs, used for any driver the model-config document does not
// cover. Context windows and constraints mirror the published model specs.

func builtinGeminiCatalog() []ModelCapabilities {
	return []ModelCapabilities{
		{
			ModelName:                "gemini-2.5-pro",
			FriendlyName:             "Gemini 2.5 Pro",
			Aliases:                  []string{"pro", "gemini-pro"},
			ContextWindow:            1_048_576,
			MaxImageMB:               20,
			SupportsExtendedThinking: true,
			SupportsSystemPrompts:    true,
			SupportsStreaming:        true,
			SupportsJSONMode:         true,
			SupportsFunctionCalling:  true,
			SupportsImages:           true,
			Temperature:              RangeTemperature{Lo: 0, Hi: 2, Def: 0.5},
		},
		{
			ModelName:               "gemini-2.5-flash",
			FriendlyName:            "Gemini 2.5 Flash",
			Aliases:                 []string{"flash", "gemini-flash"},
			ContextWindow:           1_048_576,
			MaxImageMB:              20,
			SupportsSystemPrompts:   true,
			SupportsStreaming:       true,
			SupportsJSONMode:        true,
			SupportsFunctionCalling: true,
			SupportsImages:          true,
			Temperature:             RangeTemperature{Lo: 0, Hi: 2, Def: 0.5},
		},
	}
}

func builtinOpenAICatalog() []ModelCapabilities {
	return []ModelCapabilities{
		{
			ModelName:                "o3",
			FriendlyName:             "OpenAI o3",
			ContextWindow:            200_000,
			SupportsExtendedThinking: true,
			SupportsSystemPrompts:    true,
			SupportsStreaming:        true,
			SupportsJSONMode:         true,
			SupportsFunctionCalling:  true,
			Temperature:              FixedTemperature{Value: 1.0},
		},
		{
			ModelName:                "o3-mini",
			FriendlyName:             "OpenAI o3-mini",
			Aliases:                  []string{"o3mini"},
			ContextWindow:            200_000,
			SupportsExtendedThinking: true,
			SupportsSystemPrompts:    true,
			SupportsStreaming:        true,
			SupportsJSONMode:         true,
			SupportsFunctionCalling:  true,
			Temperature:              FixedTemperature{Value: 1.0},
		},
		{
			ModelName:               "gpt-4.1",
			FriendlyName:            "GPT-4.1",
			Aliases:                 []string{"gpt4.1"},
			ContextWindow:           1_047_576,
			MaxImageMB:              20,
			SupportsSystemPrompts:   true,
			SupportsStreaming:       true,
			SupportsJSONMode:        true,
			SupportsFunctionCalling: true,
			SupportsImages:          true,
			Temperature:             RangeTemperature{Lo: 0, Hi: 2, Def: 0.5},
		},
	}
}

func builtinAnthropicCatalog() []ModelCapabilities {
	return []ModelCapabilities{
		{
			ModelName:                "claude-sonnet-4-5",
			FriendlyName:             "Claude Sonnet 4.5",
			Aliases:                  []string{"sonnet"},
			ContextWindow:            200_000,
			MaxImageMB:               5,
			SupportsExtendedThinking: true,
			SupportsSystemPrompts:    true,
			SupportsStreaming:        true,
			SupportsFunctionCalling:  true,
			SupportsImages:           true,
			Temperature:              RangeTemperature{Lo: 0, Hi: 1, Def: 0.5},
		},
		{
			ModelName:               "claude-haiku-4-5",
			FriendlyName:            "Claude Haiku 4.5",
			Aliases:                 []string{"haiku"},
			ContextWindow:           200_000,
			MaxImageMB:              5,
			SupportsSystemPrompts:   true,
			SupportsStreaming:       true,
			SupportsFunctionCalling: true,
			SupportsImages:          true,
			Temperature:             RangeTemperature{Lo: 0, Hi: 1, Def: 0.5},
		},
	}
}

func builtinOpenRouterCatalog() []ModelCapabilities {
	return []ModelCapabilities{
		{
			ModelName:                "deepseek/deepseek-r1",
			FriendlyName:             "DeepSeek R1",
			Aliases:                  []string{"deepseek-r1"},
			ContextWindow:            128_000,
			SupportsExtendedThinking: true,
			SupportsSystemPrompts:    true,
			SupportsStreaming:        true,
			Temperature:              RangeTemperature{Lo: 0, Hi: 2, Def: 0.5},
		},
		{
			ModelName:             "qwen/qwen-2.5-coder-32b-instruct",
			FriendlyName:          "Qwen 2.5 Coder 32B",
			Aliases:               []string{"qwen-coder"},
			ContextWindow:         128_000,
			SupportsSystemPrompts: true,
			SupportsStreaming:     true,
			SupportsJSONMode:      true,
			Temperature:           RangeTemperature{Lo: 0, Hi: 2, Def: 0.5},
		},
	}
}

// builtinCatalog returns the built-in catalog for a driver, nil for custom
// (custom catalogs are discovered or declared, never assumed).
func builtinCatalog(driver string) []ModelCapabilities {
	switch driver {
	case DriverGemini:
		return builtinGeminiCatalog()
	case DriverOpenAI:
		return builtinOpenAICatalog()
	case DriverAnthropic:
		return builtinAnthropicCatalog()
	case DriverOpenRouter:
		return builtinOpenRouterCatalog()
	default:
		return nil
	}
}
