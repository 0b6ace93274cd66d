package config

// Locators names every element the session controller touches. Selectors
// starting with "//" or ".//" are XPath; everything else is CSS. Keeping the
// whole table in config means a site markup change is a config edit, not a
// code change.
type Locators struct {
	// Login flow.
	LoginOpen     string `json:"login_open"`
	LoginModal    string `json:"login_modal"`
	Username      string `json:"username"`
	Password      string `json:"password"`
	PasswordMask  string `json:"password_mask"`
	LoginSubmit   string `json:"login_submit"`
	LogoutControl string `json:"logout_control"`
	ErrorPopup    string `json:"error_popup"`
	ErrorClose    string `json:"error_close"`

	// Course and homework discovery.
	CourseLinks   string `json:"course_links"`
	HomeworkRows  string `json:"homework_rows"`
	MakeupButtons string `json:"makeup_buttons"`
	StartHomework string `json:"start_homework"`
	AnsweredCount string `json:"answered_count"`

	// Question answering.
	Questions       string `json:"questions"`
	QuestionContent string `json:"question_content"`
	ChoiceOptions   string `json:"choice_options"`
	ChoiceInputs    string `json:"choice_inputs"`
	SubjectiveBox   string `json:"subjective_box"`

	// Submission.
	SubmitButton  string `json:"submit_button"`
	ConfirmButton string `json:"confirm_button"`
	ResultBack    string `json:"result_back"`

	// Question bank import from finished homework.
	ViewButtons   string `json:"view_buttons"`
	CorrectAnswer string `json:"correct_answer"`
}

// DefaultLocators returns the selector table for the production site markup.
func DefaultLocators() Locators {
	return Locators{
		LoginOpen:     `//a[contains(text(),"登录")]`,
		LoginModal:    `#loginModal`,
		Username:      `#login_username`,
		Password:      `#login_password`,
		PasswordMask:  `#pwd`,
		LoginSubmit:   `//div[@id="loginModal"]//button[contains(text(),"登录")]`,
		LogoutControl: `//a[contains(text(),"退出")]`,
		ErrorPopup:    `.layui-layer-content`,
		ErrorClose:    `.layui-layer-close`,

		CourseLinks:   `//ul[contains(@class,"course-list")]//a`,
		HomeworkRows:  `//table//tr[td]`,
		MakeupButtons: `//a[contains(@onclick,"view(") and contains(text(),"补做")]`,
		StartHomework: `//a[contains(text(),"做作业")]`,
		AnsweredCount: `#answeredCount`,

		Questions:       `//div[contains(@class,"question-item")]`,
		QuestionContent: `.//div[contains(@class,"question-content")]`,
		ChoiceOptions:   `.//li[contains(@class,"option")]`,
		ChoiceInputs:    `.//input[@type="radio" or @type="checkbox"]`,
		SubjectiveBox:   `.//textarea`,

		SubmitButton:  `//button[contains(text(),"提交")]`,
		ConfirmButton: `//div[contains(@class,"layui-layer-btn")]//a[contains(text(),"确定")]`,
		ResultBack:    `//a[contains(text(),"返回")]`,

		ViewButtons:   `//a[contains(@onclick,"view(") and contains(text(),"查看")]`,
		CorrectAnswer: `.//div[contains(@class,"answer")]`,
	}
}
