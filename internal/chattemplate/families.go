package chattemplate

// builtinTemplate is the raw definition of one family's default template,
// compiled once when an Engine is constructed.
type builtinTemplate struct {
	family        string
	source        string
	stopTokens    []string
	systemSupport bool
}

// builtinTemplates returns the family-specific default templates spec §4.G
// calls for: "Default system instructions are family-specific strings."
// Families mirror the ones named in spec §4.E's adapter delegation list.
func builtinTemplates() []builtinTemplate {
	return []builtinTemplate{
		{
			family: "llama",
			source: "<|begin_of_text|>" +
				"{% for m in messages %}" +
				"{% if m.role == 'system' %}<|start_header_id|>system<|end_header_id|>\n\n{{ m.content }}<|eot_id|>" +
				"{% elif m.role == 'user' %}<|start_header_id|>user<|end_header_id|>\n\n{{ m.content }}<|eot_id|>" +
				"{% else %}<|start_header_id|>assistant<|end_header_id|>\n\n{{ m.content }}<|eot_id|>" +
				"{% endif %}" +
				"{% endfor %}" +
				"<|start_header_id|>assistant<|end_header_id|>\n\n",
			stopTokens:    []string{"<|eot_id|>", "<|end_of_text|>"},
			systemSupport: true,
		},
		{
			family: "mistral",
			source: "<s>" +
				"{% for m in messages %}" +
				"{% if m.role == 'user' %}[INST] {{ m.content }} [/INST]" +
				"{% else %}{{ m.content }}</s>" +
				"{% endif %}" +
				"{% endfor %}",
			stopTokens:    []string{"</s>"},
			systemSupport: false,
		},
		{
			family: "qwen",
			source: "{% for m in messages %}" +
				"<|im_start|>{{ m.role }}\n{{ m.content }}<|im_end|>\n" +
				"{% endfor %}" +
				"<|im_start|>assistant\n",
			stopTokens:    []string{"<|im_end|>"},
			systemSupport: true,
		},
		{
			family: "phi",
			source: "{% for m in messages %}" +
				"<|{{ m.role }}|>\n{{ m.content }}<|end|>\n" +
				"{% endfor %}" +
				"<|assistant|>\n",
			stopTokens:    []string{"<|end|>"},
			systemSupport: true,
		},
		{
			family: "gemma",
			source: "{% for m in messages %}" +
				"{% if m.role == 'user' %}<start_of_turn>user\n{{ m.content }}<end_of_turn>\n" +
				"{% else %}<start_of_turn>model\n{{ m.content }}<end_of_turn>\n" +
				"{% endif %}" +
				"{% endfor %}" +
				"<start_of_turn>model\n",
			stopTokens:    []string{"<end_of_turn>"},
			systemSupport: false,
		},
		{
			family: "smollm3",
			source: "{% for m in messages %}" +
				"<|im_start|>{{ m.role }}\n{{ m.content }}<|im_end|>\n" +
				"{% endfor %}" +
				"<|im_start|>assistant\n",
			stopTokens:    []string{"<|im_end|>"},
			systemSupport: true,
		},
		{
			family: "claude",
			source: "{% for m in messages %}" +
				"{% if m.role == 'system' %}{{ m.content }}\n\n" +
				"{% elif m.role == 'user' %}\n\nHuman: {{ m.content }}" +
				"{% else %}\n\nAssistant: {{ m.content }}" +
				"{% endif %}" +
				"{% endfor %}" +
				"\n\nAssistant:",
			stopTokens:    []string{"\n\nHuman:"},
			systemSupport: true,
		},
	}
}
